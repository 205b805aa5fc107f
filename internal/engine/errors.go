package engine

import "errors"

var (
	// ErrNotOnPage is returned when selecting an id that is not on the
	// currently applied page.
	ErrNotOnPage = errors.New("record is not on the current page")

	// ErrBulkUnavailable is returned when the engine was built without a
	// bulk executor.
	ErrBulkUnavailable = errors.New("bulk operations are not configured")
)
