package instance

import (
	"os"

	"github.com/angelmondragon/netcomp-backend/pkg/env"
)

// GetID identifies the running process in logs and lock ownership. It prefers
// NETCOMP_INSTANCE_ID, then the platform dyno name, then the hostname.
func GetID() string {
	if id := env.First("", "NETCOMP_INSTANCE_ID", "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
