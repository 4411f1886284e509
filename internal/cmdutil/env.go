package cmdutil

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
)

// EnvPrefix namespaces every environment fallback read by the CLI.
const EnvPrefix = "PREVIEWDEV_"

// EnvKey maps a config key such as "metrics_listen" to PREVIEWDEV_METRICS_LISTEN.
func EnvKey(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// EnvString returns the trimmed value of the prefixed key and whether it was set
// to something other than blanks.
func EnvString(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(EnvKey(key)))
	return v, v != ""
}

// EnvBool parses a boolean value; ok is false when the key is unset or blank.
func EnvBool(key string) (v bool, ok bool, err error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	v, err = strconv.ParseBool(raw)
	if err != nil {
		return false, true, fmt.Errorf("%s: %w", EnvKey(key), err)
	}
	return v, true, nil
}

// SplitCommand splits a build command into argv using shell quoting rules.
// Environment variables are not expanded and shell operators such as && or |
// are rejected, since the command is run directly and not through a shell.
func SplitCommand(s string) ([]string, error) {
	p := shellwords.NewParser()
	args, err := p.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("build command: %w", err)
	}
	if p.Position >= 0 {
		return nil, errors.New("build command: shell operators are not supported, wrap the command in a script")
	}
	return args, nil
}
