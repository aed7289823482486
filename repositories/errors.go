package repositories

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no document.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicateCommission means the commission tuple index rejected an insert.
	ErrDuplicateCommission = errors.New("commission already exists for partner, farmer, order and listing")
	// ErrStatusConflict means a conditional status update matched nothing because the
	// record is no longer in the expected state.
	ErrStatusConflict = errors.New("commission status changed concurrently")
	// ErrMarkerSuperseded means a totals marker could not be put back because a
	// newer one was set in the meantime.
	ErrMarkerSuperseded = errors.New("totals marker superseded by a newer change")
)
