package fieldsync

import "fmt"

// CatalogError reports a catalog that could not be resolved for a field.
type CatalogError struct {
	Field      string
	Generation uint64
	Err        error
}

func (e *CatalogError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("fieldsync: catalog for field %q (generation %d): %v", e.Field, e.Generation, e.Err)
}

func (e *CatalogError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
