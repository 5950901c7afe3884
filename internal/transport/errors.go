package transport

import "fmt"

// Kind classifies a transport failure for operator diagnosis. The job store
// keeps only the message, so the class is baked into the text.
type Kind string

const (
	KindConnect Kind = "connect"
	KindExit    Kind = "exit"
	KindStream  Kind = "stream"
	KindTimeout Kind = "timeout"
)

// Error is a classified transport failure.
type Error struct {
	Kind Kind
	Code int // remote exit code, KindExit only
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindExit:
		return fmt.Sprintf("remote encoder failed: exit code %d", e.Code)
	case KindTimeout:
		return fmt.Sprintf("encode timed out: %s", e.Msg)
	case KindConnect:
		return fmt.Sprintf("worker unreachable: %s", e.Msg)
	default:
		return fmt.Sprintf("stream error: %s", e.Msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func connectError(err error) *Error {
	return &Error{Kind: KindConnect, Msg: err.Error(), Err: err}
}

func timeoutError(err error) *Error {
	return &Error{Kind: KindTimeout, Msg: err.Error(), Err: err}
}
