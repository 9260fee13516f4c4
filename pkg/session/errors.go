package session

import "errors"

// Admission errors. All are rejected synchronously before any stream begins
// and are matched with errors.Is.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionBusy      = errors.New("session busy")
	ErrSessionExpired   = errors.New("session expired")
	ErrQuotaExceeded    = errors.New("session quota exceeded")
	ErrBackendSaturated = errors.New("backend saturated")
)
