package module

import dom "gitrank/internal/services/catalog/domain"

// Ports holds the ports exposed by the catalog module
type Ports struct {
	Catalog   dom.CatalogPort
	Lifecycle dom.LifecyclePort
}
