package relayerr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestClassifyDialError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{name: "nil", err: nil, want: ""},
		{name: "canceled", err: context.Canceled, want: CodeConnectionClosed},
		{name: "wrapped canceled", err: fmt.Errorf("dial tcp: %w", context.Canceled), want: CodeConnectionClosed},
		{name: "refused", err: errors.New("connection refused"), want: CodeIO},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ClassifyDialError(c.err); got != c.want {
				t.Fatalf("ClassifyDialError(%v) = %q, want %q", c.err, got, c.want)
			}
		})
	}
}

func TestClassifyReadError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{name: "nil", err: nil, want: ""},
		{name: "eof", err: io.EOF, want: CodeConnectionClosed},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, want: CodeConnectionClosed},
		{name: "tagged error keeps its code", err: Wrap(StageCodec, CodeProtocol, errors.New("bad frame")), want: CodeProtocol},
		{name: "other", err: errors.New("connection reset"), want: CodeIO},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ClassifyReadError(c.err); got != c.want {
				t.Fatalf("ClassifyReadError(%v) = %q, want %q", c.err, got, c.want)
			}
		})
	}
}
