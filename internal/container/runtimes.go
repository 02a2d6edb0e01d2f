package container

import "github.com/cumulusfn/cumulus/internal/config"

//RuntimeInfo contains information about a supported function runtime env.
type RuntimeInfo struct {
	Image         string
	InvocationCmd []string
}

const CUSTOM_RUNTIME = "custom"

var RuntimeToInfo = getRuntimeInfo()

// Podman requires the prefix 'docker.io' in order to pull from DockerHub
func getRuntimeInfo() map[string]RuntimeInfo {
	config.ReadConfiguration(config.DefaultConfigFileName)
	containerManager := config.GetString(config.CONTAINER_MANAGER, "docker")
	prefix := ""
	if containerManager == "podman" {
		prefix = "docker.io/"
	}
	return map[string]RuntimeInfo{
		"python310": {prefix + "cumulusfn/cumulus-python310", []string{"python", "/entrypoint.py"}},
		"nodejs17":  {prefix + "cumulusfn/cumulus-nodejs17", []string{"node", "/entrypoint.js"}},
		"go119":     {prefix + "cumulusfn/cumulus-go119", []string{"/executor"}},
	}
}
