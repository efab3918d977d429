package feed

import (
	"io"
)

// Porter is the minimal interface needed for a detector connection. A real
// serial port, a replay file and test doubles all satisfy it.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// losslessPort is implemented by ports with no real-time deadline, such as
// a recording. A Mux over one waits for slow subscribers instead of
// dropping lines.
type losslessPort interface {
	Lossless() bool
}
