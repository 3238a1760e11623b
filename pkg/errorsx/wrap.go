package errorsx

import "errors"

// ReasonedError wraps an error with a reason code.
type ReasonedError struct {
	Err  error
	Code ReasonCode
}

func (e *ReasonedError) Error() string { return string(e.Code) + ": " + e.Err.Error() }

func (e *ReasonedError) Unwrap() error { return e.Err }

// Wrap attaches a reason code to err. An already-reasoned error keeps its
// original code so the first classification wins.
func Wrap(err error, code ReasonCode) error {
	if err == nil {
		return nil
	}
	var re *ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return &ReasonedError{Err: err, Code: code}
}

// Reason extracts the reason code from err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	var re *ReasonedError
	if errors.As(err, &re) {
		return re.Code
	}
	return ReasonUnknown
}

// HasReason reports whether err carries the given code.
func HasReason(err error, code ReasonCode) bool {
	return Reason(err) == code
}
