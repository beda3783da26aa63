package proc

import (
	"io"
	"sync"
)

// defaultStreamBuffer bounds how much unread child output a stream holds
// before the pump applies backpressure to the pipe.
const defaultStreamBuffer = 1 << 20

// ReadStream buffers one redirected output pipe of a child process.
//
// A pump goroutine drains the OS pipe into an in-memory buffer, so the
// child is not blocked on a full pipe while the parent is slow to read.
// Read blocks until data arrives or the stream ends; Available and Opened
// never block. Output buffered before the child exited stays readable
// afterward.
type ReadStream struct {
	src io.ReadCloser
	max int

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	eof    bool
	err    error
	closed bool
}

// newReadStream wraps the parent-side read end of a pipe and starts its
// pump. max bounds the buffer; values <= 0 select the default.
func newReadStream(src io.ReadCloser, max int) *ReadStream {
	if max <= 0 {
		max = defaultStreamBuffer
	}
	s := &ReadStream{src: src, max: max}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

func (s *ReadStream) pump() {
	chunk := make([]byte, 4096)
	for {
		n, err := s.src.Read(chunk)

		s.mu.Lock()
		if n > 0 {
			// Admit what fits, waking readers as data lands, and wait for
			// space when the buffer is at its cap.
			data := chunk[:n]
			for len(data) > 0 && !s.closed {
				space := s.max - len(s.buf)
				if space <= 0 {
					s.cond.Wait()
					continue
				}
				if space > len(data) {
					space = len(data)
				}
				s.buf = append(s.buf, data[:space]...)
				data = data[space:]
				s.cond.Broadcast()
			}
		}
		if err != nil {
			s.eof = true
			if err != io.EOF && !s.closed {
				s.err = err
			}
			s.cond.Broadcast()
			s.mu.Unlock()
			_ = s.src.Close()
			return
		}
		s.mu.Unlock()
	}
}

// Read blocks until buffered data is available, then copies as much as
// fits into p. Once the pipe has ended and the buffer is drained it
// returns io.EOF, or the pump's error if the pipe failed.
func (s *ReadStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.eof && !s.closed {
		s.cond.Wait()
	}

	if len(s.buf) == 0 {
		if !s.closed && s.err != nil {
			return 0, s.err
		}
		return 0, io.EOF
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	if len(s.buf) == 0 {
		s.buf = nil
	}
	s.cond.Broadcast()
	return n, nil
}

// Available returns the number of buffered bytes. It never blocks.
func (s *ReadStream) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Opened reports whether the stream is still attached to a live pipe. It
// becomes false once the pipe reaches end of file or the stream is closed;
// buffered data may still be readable after that.
func (s *ReadStream) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !s.eof
}

// Err returns the pump's error when the pipe failed with something other
// than end of file.
func (s *ReadStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches from the pipe and discards buffered data. It unblocks any
// in-flight Read and is safe to call more than once.
func (s *ReadStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buf = nil
	s.cond.Broadcast()
	s.mu.Unlock()
	_ = s.src.Close()
	return nil
}
