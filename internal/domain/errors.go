package domain

import "fmt"

// ReferenceNotFoundError reports a transaction item pointing at a product,
// blend template, or bundle that does not exist. It aborts the whole
// processing call before any stock is touched.
type ReferenceNotFoundError struct {
	Kind      string
	ID        string
	ItemIndex int
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("%s %q referenced by item %d not found", e.Kind, e.ID, e.ItemIndex)
}
