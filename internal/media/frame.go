package media

import "time"

// A Frame is one complete encoded JPEG image. Frames are immutable once
// published: neither the producer nor consumers may modify the bytes.
type Frame struct {
	// Publish sequence number, assigned by the Slot. Strictly increasing.
	Seq uint64

	// Publish time.
	Time time.Time

	data []byte
}

// Bytes returns the encoded image. The returned slice must not be modified.
func (f *Frame) Bytes() []byte {
	return f.data
}

// Len returns the size of the encoded image in bytes.
func (f *Frame) Len() int {
	return len(f.data)
}
