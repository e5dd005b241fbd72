package types

import "errors"

// Failure kinds raised by external collaborators. Adapters wrap provider
// errors with one of these so callers can branch with errors.Is.
var (
	ErrResolutionFailed         = errors.New("resolution failed")
	ErrTransportUnavailable     = errors.New("transport unavailable")
	ErrArtifactPermissionDenied = errors.New("artifact permission denied")
	ErrArtifactMissing          = errors.New("artifact missing")
	ErrProviderRateLimited      = errors.New("provider rate limited")
	ErrNoActiveSession          = errors.New("no active session")
)
