package react

import "errors"

var (
	// ErrTransport marks a failure reaching the reasoning service or a tool's
	// backing connection. It ends the question and the session.
	ErrTransport = errors.New("transport error")

	// ErrMaxRounds is returned when the round budget runs out without any
	// answer text.
	ErrMaxRounds = errors.New("exceeded maximum rounds")
)
