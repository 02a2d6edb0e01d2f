package utils

import (
	"net"
)

// GetIpAddress retrieves the host IP address to advertise to clients and
// containers. Falls back to loopback when no outbound route exists.
func GetIpAddress() net.IP {
	ip, err := GetOutboundIp()
	if err != nil {
		return net.ParseIP("127.0.0.1")
	}
	return ip
}

// GetOutboundIp retrieves the host ip address by Dialing with Google's DNS (cross-platform)
func GetOutboundIp() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP, nil
}
