package api

// StatusInformation summarizes the node state for the status endpoint.
type StatusInformation struct {
	Url                     string
	AvailableWarmContainers map[string]int
	AvailableMemMB          int64
	AvailableCPUs           float64
	MaxMemMB                int64
	MaxCPUs                 float64
	RequestsCount           int64
}
