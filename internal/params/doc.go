// Package params mirrors the remote parameter table.
//
// Ownership boundary:
// - the parameter cache, its progress and the pending edit set
// - bulk load with quiescence driven re-requests of missing slots
// - acknowledged writes with bounded retries
// - local validation and value encoding policy
//
// One loop goroutine per Synchronizer is the only writer of the cache.
// Readers take snapshots or subscribe to the table/progress broadcasts.
package params
