// Package tracing reads the SLSKTRACE environment variable, a
// comma-separated list of facility names ("peer,netconn,listener", or
// "all").
package tracing

import (
	"os"
	"strings"
)

// Enabled reports whether debug logging is requested for facility.
func Enabled(facility string) bool {
	v := os.Getenv("SLSKTRACE")
	if v == "" {
		return false
	}
	if v == "all" {
		return true
	}
	for _, f := range strings.Split(v, ",") {
		if strings.TrimSpace(f) == facility {
			return true
		}
	}
	return false
}
