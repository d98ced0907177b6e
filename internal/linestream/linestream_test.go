package linestream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// chunkReader returns one chunk per Read call.
type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func (r *chunkReader) Close() error {
	return nil
}

func collect(t *testing.T, s *Stream) []string {
	var lines []string
	for {
		line, err := s.Next(context.Background())
		if errors.Is(err, ErrDone) {
			return lines
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}
}

func TestSplitLines(t *testing.T) {
	testCases := []struct {
		chunks   []string
		expected []string
	}{
		{
			chunks:   []string{"foo\nb", "ar\r\nbaz"},
			expected: []string{"foo", "bar", "baz"},
		},
		{
			chunks:   []string{"a\rb\r", "\nc\n"},
			expected: []string{"a", "b", "c"},
		},
		{
			chunks:   []string{"o\n", "hh", "h\n", "a[\"x\"]"},
			expected: []string{"o", "hhh", `a["x"]`},
		},
		{
			chunks:   []string{"one\n\ntwo\n"},
			expected: []string{"one", "", "two"},
		},
		{
			chunks:   []string{"\r", "\n", "\r", "x"},
			expected: []string{"", "", "x"},
		},
		{
			chunks:   nil,
			expected: nil,
		},
	}

	for _, test := range testCases {
		s := New(&chunkReader{chunks: append([]string(nil), test.chunks...)})
		diff := cmp.Diff(test.expected, collect(t, s))
		if diff != "" {
			t.Fatalf("chunks %q: %s", test.chunks, diff)
		}
	}
}

func TestTrailingSegmentHeldUntilEnd(t *testing.T) {
	reader, writer := io.Pipe()
	s := New(reader)

	go func() {
		writer.Write([]byte("foo\nb"))
		writer.Write([]byte("ar\r\nbaz"))
	}()

	ctx := context.Background()
	line, err := s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "foo", line)
	line, err = s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "bar", line)

	result := make(chan string, 1)
	go func() {
		line, _ := s.Next(ctx)
		result <- line
	}()

	select {
	case line := <-result:
		t.Fatalf("trailing segment %q produced before the body ended", line)
	case <-time.After(100 * time.Millisecond):
	}

	writer.Close()
	require.Equal(t, "baz", <-result)

	_, err = s.Next(ctx)
	require.ErrorIs(t, err, ErrDone)
}

func TestAbort(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()
	s := New(reader)

	go writer.Write([]byte("first\n"))

	line, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", line)

	pending := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		pending <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Abort())
	require.ErrorIs(t, <-pending, ErrAborted)

	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, ErrAborted)
}

func TestNextCancelled(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()
	s := New(reader)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = s.Next(context.Background())
	require.ErrorIs(t, err, ErrAborted)
}

func TestInvalidUTF8(t *testing.T) {
	s := New(io.NopCloser(strings.NewReader("a\xffb\n")))
	line, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a�b", line)
}
