// Package goroutineid extracts the numeric id of the calling goroutine.
//
// Go deliberately exposes no public API for this. The technique here parses
// it out of the header line of runtime.Stack, which is the only place the
// runtime prints it.
package goroutineid

import "runtime"

// Current returns the id of the calling goroutine.
func Current() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
