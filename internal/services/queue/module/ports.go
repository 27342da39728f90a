package module

import dom "gitrank/internal/services/queue/domain"

// Ports holds the ports exposed by the queue module
type Ports struct {
	Enqueuer  dom.EnqueuerPort
	Consumer  dom.ConsumerPort
	Inspector dom.InspectorPort
}
