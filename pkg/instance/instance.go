package instance

import "os"

// GetID returns the identifier of this server process for log correlation.
// DYNO wins over HOSTNAME; "local" is the fallback.
func GetID() string {
	for _, key := range []string{"DYNO", "HOSTNAME"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	return "local"
}
