package instance

import (
	"os"
	"strings"
)

// GetID returns the worker instance identifier used as lock owner.
// CIRCULATION_WORKER_ID wins, then the hostname.
func GetID() string {
	if id := strings.TrimSpace(os.Getenv("CIRCULATION_WORKER_ID")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
