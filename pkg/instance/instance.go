package instance

import "os"

// GetID identifies this process in logs. ESCROW_INSTANCE_ID wins, then the
// platform's dyno name, then the host name.
func GetID(fallback string) string {
	for _, key := range []string{"ESCROW_INSTANCE_ID", "DYNO", "HOSTNAME"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return fallback
}
