package persister

import "github.com/adammck/rover/pkg/api"

type Persister interface {

	// GetRecords returns the latest snapshot of all known location records.
	// It's called once, at registry startup.
	GetRecords() ([]api.Record, error)

	// PutRecord writes a single record to the store. It's only called after
	// the registry has decided that the record supersedes the previous one,
	// so implementations don't need to compare versions.
	PutRecord(api.Record) error
}
