// Package metrics holds the instrumentation abstractions of the core packages, so
// they do not depend on a metrics backend.
package metrics

// Timer measures one operation. Create it when the operation starts and call
// ObserveDuration when it completes:
//
//	defer m.StoreCommitDuration().ObserveDuration()
type Timer interface {
	ObserveDuration()
}
