// Package bytesize formats byte counts for debug logs, wrapping the
// teacher's bytefmt dependency rather than hand-rolling a KB/MB
// formatter.
package bytesize

import "code.cloudfoundry.org/bytefmt"

// String renders n bytes as a human-readable size, e.g. "34B" or
// "1.2K".
func String(n int) string {
	if n < 0 {
		n = 0
	}
	return bytefmt.ByteSize(uint64(n))
}
