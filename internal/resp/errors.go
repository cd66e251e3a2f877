package resp

import "fmt"

// ProtocolError reports a malformed or truncated frame. A connection that
// produced one must be discarded.
type ProtocolError struct {
	Reason    string
	Truncated bool
}

func (e *ProtocolError) Error() string {
	if e.Truncated {
		return fmt.Sprintf("resp: truncated frame: %s", e.Reason)
	}
	return fmt.Sprintf("resp: protocol violation: %s", e.Reason)
}

func violation(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

func truncated(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...), Truncated: true}
}
