//go:build !unix

package taskqueue

// processAlive cannot check processes here; staleness falls back to the
// marker age alone.
func processAlive(pid int) bool {
	return pid > 0
}

const pidLivenessSupported = false
