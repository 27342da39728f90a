package module

import dom "gitrank/internal/services/resolve/domain"

// Ports holds the ports exposed by the resolution module
type Ports struct {
	Worker dom.WorkerPort
}
