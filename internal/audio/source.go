package audio

// Source produces a lazy, non-restartable sequence of frames. The channel is
// closed when capture ends; Err distinguishes a clean end of input (nil, e.g.
// a file source reaching EOF) from an abnormal one (device disconnected).
type Source interface {
	// Frames returns the frame sequence. Receiving from the channel after
	// Close drains any buffered frames and then observes closure.
	Frames() <-chan Frame

	// Err returns the terminal error once Frames is closed, or nil.
	Err() error

	// Close releases the underlying device or file. Idempotent; guaranteed to
	// release resources on every exit path.
	Close() error
}
