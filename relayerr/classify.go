package relayerr

import (
	"context"
	"errors"
	"io"
)

// ClassifyDialError maps a dial failure onto a stable code for logging and
// metrics cardinality: a dial abandoned because its context was canceled is
// an expected shutdown, everything else is transport-level.
func ClassifyDialError(err error) Code {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return CodeConnectionClosed
	}
	return CodeIO
}

// ClassifyReadError maps a stream-read failure onto ConnectionClosed for
// expected EOF and Io for everything else. A wrapped *Error keeps its own
// code.
func ClassifyReadError(err error) Code {
	if err == nil {
		return ""
	}
	if code, ok := CodeOf(err); ok {
		return code
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return CodeConnectionClosed
	}
	return CodeIO
}
