// Package link keeps host sessions to configured boards.
//
// A Session dials its board (TCP, or an in-process simulator over a pipe),
// runs the frame decoder on its own goroutine and redials with exponential
// backoff when the stream closes. Replies are matched to Request callers by
// command byte, oldest request first. The Manager runs all sessions under
// one errgroup.
package link
