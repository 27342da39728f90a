package module

import dom "gitrank/internal/services/extract/domain"

// Ports holds the ports exposed by the extraction module
type Ports struct {
	Worker dom.WorkerPort
}
