package models

import "errors"

// ErrStatusConflict is returned by store writes guarded by an expected
// status when the vault has already moved on. Callers abandon the
// attempt; the next evaluation re-reads fresh state.
var ErrStatusConflict = errors.New("vault status changed concurrently")
