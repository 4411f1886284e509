package cmdutil

import (
	"encoding/json"
	"errors"
	"io"
)

// UsageError marks an error as a usage/config error (exit=2).
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

// IsUsage reports whether err is a UsageError (directly or wrapped).
func IsUsage(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

// WriteJSON writes v as one line of JSON to w.
func WriteJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
