// ABOUTME: Byte ring buffer bridging device callbacks and blocking I/O
// ABOUTME: Non-blocking methods for callbacks, blocking methods for session loops
package device

import (
	"io"
	"sync"
)

// RingBuffer provides a thread-safe circular buffer for PCM bytes
type RingBuffer struct {
	buffer   []byte
	readPos  int
	writePos int
	size     int
	count    int // Number of bytes currently in buffer
	closed   bool
	mu       sync.Mutex
	cond     *sync.Cond
}

// NewRingBuffer creates a ring buffer with given capacity (in bytes)
func NewRingBuffer(capacity int) *RingBuffer {
	rb := &RingBuffer{
		buffer: make([]byte, capacity),
		size:   capacity,
	}
	rb.cond = sync.NewCond(&rb.mu)
	return rb
}

// Write adds as many bytes as fit without blocking
func (rb *RingBuffer) Write(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.closed {
		return 0
	}
	n := rb.put(p)
	if n > 0 {
		rb.cond.Broadcast()
	}
	return n
}

// Read takes up to len(p) bytes without blocking
func (rb *RingBuffer) Read(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := rb.take(p)
	if n > 0 {
		rb.cond.Broadcast()
	}
	return n
}

// ReadFill reads without blocking and fills any underrun with fill
func (rb *RingBuffer) ReadFill(p []byte, fill byte) int {
	n := rb.Read(p)
	for i := n; i < len(p); i++ {
		p[i] = fill
	}
	return n
}

// WaitWrite blocks until all of p is buffered or the ring is closed
func (rb *RingBuffer) WaitWrite(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for written < len(p) {
		if rb.closed {
			return written, io.ErrClosedPipe
		}
		n := rb.put(p[written:])
		if n == 0 {
			rb.cond.Wait()
			continue
		}
		written += n
		rb.cond.Broadcast()
	}
	return written, nil
}

// WaitRead blocks until p is full or the ring is closed
func (rb *RingBuffer) WaitRead(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for read < len(p) {
		n := rb.take(p[read:])
		if n == 0 {
			if rb.closed {
				return read, io.EOF
			}
			rb.cond.Wait()
			continue
		}
		read += n
		rb.cond.Broadcast()
	}
	return read, nil
}

// WaitEmpty blocks until every buffered byte has been read or the ring is closed
func (rb *RingBuffer) WaitEmpty() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.count > 0 && !rb.closed {
		rb.cond.Wait()
	}
}

// Close wakes all waiters; later writes are refused and reads drain what is left
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.closed = true
	rb.cond.Broadcast()
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Free returns the number of free slots in the buffer
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size - rb.count
}

// put copies p into free space (must hold rb.mu)
func (rb *RingBuffer) put(p []byte) int {
	written := 0
	for written < len(p) && rb.count < rb.size {
		end := rb.size
		if rb.writePos < rb.readPos {
			end = rb.readPos
		}
		n := copy(rb.buffer[rb.writePos:end], p[written:])
		rb.writePos = (rb.writePos + n) % rb.size
		rb.count += n
		written += n
	}
	return written
}

// take copies buffered bytes into p (must hold rb.mu)
func (rb *RingBuffer) take(p []byte) int {
	read := 0
	for read < len(p) && rb.count > 0 {
		end := rb.size
		if rb.readPos+rb.count < rb.size {
			end = rb.readPos + rb.count
		}
		n := copy(p[read:], rb.buffer[rb.readPos:end])
		rb.readPos = (rb.readPos + n) % rb.size
		rb.count -= n
		read += n
	}
	return read
}
