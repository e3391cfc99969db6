// Package relayerr defines the error taxonomy shared by every component of
// the relay: a small closed set of stable codes, tagged with the stage that
// raised them, wrapping the underlying cause.
package relayerr

import "fmt"

// Code is a stable, small taxonomy of relay error classes.
type Code string

const (
	CodeIO               Code = "io"
	CodeProtocol         Code = "protocol"
	CodeAuth             Code = "auth"
	CodeTunnelNotFound   Code = "tunnel_not_found"
	CodeConfig           Code = "config"
	CodeConnectionClosed Code = "connection_closed"
)

// Stage identifies which component raised the error.
type Stage string

const (
	StageCodec    Stage = "codec"
	StageSniffer  Stage = "sniffer"
	StageRegistry Stage = "registry"
	StageControl  Stage = "control"
	StageIngress  Stage = "ingress"
	StageAdmin    Stage = "admin"
)

// Error is the concrete error type returned by relay components.
type Error struct {
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap constructs an *Error tagging err with stage and code. It returns nil
// if err is nil.
func Wrap(stage Stage, code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Stage: stage, Code: code, Err: err}
}

// New constructs an *Error with no underlying cause, for cases where the
// taxonomy code itself is the whole story (e.g. a protocol message carrying
// a human-readable string).
func New(stage Stage, code Code, msg string) error {
	if msg == "" {
		return &Error{Stage: stage, Code: code}
	}
	return &Error{Stage: stage, Code: code, Err: fmt.Errorf("%s", msg)}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error; otherwise it returns ("", false).
func CodeOf(err error) (Code, bool) {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return "", false
	}
	return e.Code, true
}
