package compose

import "errors"

// Static errors for the composition pipeline. Every failure a run can
// surface wraps one of these so callers can classify with errors.Is.
var (
	// ErrUnreadableMedia is returned when a source file cannot be decoded.
	// The wrapping error carries the offending path. Never retried.
	ErrUnreadableMedia = errors.New("unreadable media")
	// ErrInvalidRange is returned when a time range or display duration
	// violates its bounds. The caller must supply corrected parameters.
	ErrInvalidRange = errors.New("invalid range")
	// ErrInternalInvariant is returned when the reconciled overlay duration
	// does not match the audio duration within tolerance. Always fatal to
	// the run; it indicates a logic defect, not a recoverable state.
	ErrInternalInvariant = errors.New("internal invariant violation")
	// ErrEncodingFailed is returned when the output emitter could not
	// serialize the result. Reported with the underlying tool diagnostics.
	ErrEncodingFailed = errors.New("encoding failed")
)
