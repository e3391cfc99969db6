// Package cmdutil collects the small, repeated pieces every nrelay binary
// needs: environment-variable lookup with fallbacks, and the usage-error
// shape the CLI front-end uses to pick its process exit code.
package cmdutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// EnvString returns the trimmed env value if present; otherwise it returns
// fallback. Every nrelay-server bind address and the nrelay-client
// connection settings go through this.
func EnvString(key string, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// EnvInt parses an integer env value; when unset or blank, it returns
// fallback. Used for every port nrelay-server binds.
func EnvInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// UsageError marks an error as a usage/config error (exit=2 for user-facing
// CLIs), distinct from a runtime I/O failure (exit=1).
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

// IsUsage reports whether err is a UsageError (directly or wrapped).
func IsUsage(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

// RefuseOverwrite returns a UsageError when path already exists and
// overwrite is false, guarding the CLI's "origin add" from clobbering a
// saved origin file by accident.
//
// If os.Stat returns an error other than fs.ErrNotExist, it is returned
// as-is (runtime error).
func RefuseOverwrite(path string, overwrite bool) error {
	if path == "" || overwrite {
		return nil
	}
	_, err := os.Stat(path)
	if err == nil {
		return &UsageError{Msg: fmt.Sprintf("refusing to overwrite existing file: %s (use --overwrite)", path)}
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
