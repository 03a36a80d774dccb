package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Record stores, the saga log and the
// ledger clients return these (optionally wrapped); coordinators translate them
// into domain-errors codes.
//
//   - ErrNotFound: record, anchor or binding does not exist
//   - ErrConflict: an exclusive insert lost the race for its key
//   - ErrInvalidState: entity in the wrong state for the requested mutation
//   - ErrUnavailable: backend temporarily unreachable (ledger breaker open, pool exhausted)
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
