package orchestrator

import (
	"errors"
	"fmt"
)

// ErrPassLocked is returned when another worker holds the pass lease.
var ErrPassLocked = errors.New("pass is running on another worker")

// CatalogUnavailableError aborts one pass when the catalog or the result
// store cannot be reached. Other passes are unaffected.
type CatalogUnavailableError struct {
	Source    string
	Partition string
	Err       error
}

func (e *CatalogUnavailableError) Error() string {
	return fmt.Sprintf("catalog unavailable for %s/%s: %v", e.Source, e.Partition, e.Err)
}

func (e *CatalogUnavailableError) Unwrap() error {
	return e.Err
}
