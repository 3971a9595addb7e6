// Package store defines the persistence interfaces for projects, tasks
// and image records, together with the sentinel errors shared by all
// implementations. Keeping the interfaces here lets the services depend
// on persistence behavior without naming a database.
package store
