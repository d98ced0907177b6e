// Package linestream turns a streamed HTTP body into a lazily pulled sequence
// of text lines.
package linestream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

var (
	// ErrDone is returned by Next once the body has ended and every line,
	// including an unterminated trailing one, has been produced.
	ErrDone = errors.New("linestream: done")
	// ErrAborted is returned by Next after the stream was aborted.
	ErrAborted = errors.New("linestream: aborted")
)

// MaxLineSize bounds a single line, payload frames can carry whole datasets.
const MaxLineSize = 64 << 20

// Stream is a single-use line iterator over a body. Next must not be called
// concurrently with itself, Abort may be called from anywhere.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	mutex   sync.Mutex
	aborted bool
	closed  bool
}

func New(body io.ReadCloser) *Stream {
	s := &Stream{body: body}
	s.scanner = bufio.NewScanner(body)
	s.scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	s.scanner.Split(splitLines())
	return s
}

// splitLines splits on "\n", "\r" or "\r\n". A line is emitted as soon as its
// "\r" arrives, a "\n" directly following it (possibly in the next chunk) is
// then skipped instead of producing an empty line.
func splitLines() bufio.SplitFunc {
	skipLF := false
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if skipLF && len(data) > 0 {
			skipLF = false
			if data[0] == '\n' {
				return 1, nil, nil
			}
		}
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		i := bytes.IndexAny(data, "\r\n")
		if i >= 0 {
			if data[i] == '\r' {
				if i+1 < len(data) {
					if data[i+1] == '\n' {
						return i + 2, data[:i], nil
					}
				} else {
					skipLF = true
				}
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}

// Next blocks until the next line is available. It returns ErrDone when the
// body ended, ErrAborted after Abort and ctx.Err() when ctx is cancelled while
// waiting, in which case the stream is aborted as well.
func (s *Stream) Next(ctx context.Context) (string, error) {
	if s.isAborted() {
		return "", ErrAborted
	}

	stop := context.AfterFunc(ctx, func() {
		s.Abort()
	})
	defer stop()

	if s.scanner.Scan() {
		return strings.ToValidUTF8(s.scanner.Text(), "�"), nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.isAborted() {
		return "", ErrAborted
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	s.close()
	return "", ErrDone
}

// Abort closes the body, any pending or later Next returns ErrAborted.
func (s *Stream) Abort() error {
	s.mutex.Lock()
	s.aborted = true
	s.mutex.Unlock()
	return s.close()
}

func (s *Stream) isAborted() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.aborted
}

func (s *Stream) close() error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return nil
	}
	s.closed = true
	s.mutex.Unlock()
	return s.body.Close()
}
