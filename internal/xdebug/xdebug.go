// Package xdebug provides a mechanism to configure debug parameters via the
// DUPLEXMUX_DEBUG environment variable.
//
// The value of DUPLEXMUX_DEBUG is a comma-separated list of key=value pairs.
// For example:
//
//	DUPLEXMUX_DEBUG=traceacks=1,traceresends=1
package xdebug

import (
	"fmt"
	"os"
	"strings"
)

const envKey = "DUPLEXMUX_DEBUG"

var params map[string]string

func init() {
	var err error
	params, err = parse(os.Getenv(envKey))
	if err != nil {
		panic(err)
	}
}

// Value returns the value of the debug parameter with the given key, or the
// empty string if it is not set.
func Value(key string) string {
	return params[key]
}

// Enabled reports whether the debug parameter with the given key is set to a
// truthy value ("1" or "true").
func Enabled(key string) bool {
	v := params[key]
	return v == "1" || v == "true"
}

func parse(envValue string) (map[string]string, error) {
	if envValue == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(envValue, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%s: invalid format: %q", envKey, part)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
