package scm

import "time"

// sleepLinearBackoff waits roughly 10ms * attempt before a ref-update
// retry.
func sleepLinearBackoff(attempt int) {
	time.Sleep(refUpdateBackoff * time.Duration(attempt))
}
