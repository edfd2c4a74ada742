package foundry

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// maxLineSize bounds one SSE line. response.completed events carry the whole
// reply and can be large.
const maxLineSize = 4 << 20

// Stream yields the chunks of one response. It is single-use and not safe
// for concurrent use.
//
//	stream, err := client.SendMessage(ctx, messages, true, nil)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for stream.Next() {
//	    fmt.Print(stream.Chunk())
//	}
//	return stream.Err()
type Stream struct {
	scanner *bufio.Scanner
	body    io.Closer
	cancel  context.CancelFunc
	log     *slog.Logger

	idle     *time.Timer
	timeout  time.Duration
	timedOut atomic.Bool

	// pending holds pre-read chunks for non-streaming responses.
	pending []string

	current string
	err     error
	done    bool
}

// newLineStream reads SSE lines from body. cancel aborts the underlying
// request and is called when the stream finishes, fails or idles for longer
// than timeout.
func newLineStream(body io.ReadCloser, cancel context.CancelFunc, timeout time.Duration, log *slog.Logger) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	s := &Stream{
		scanner: scanner,
		body:    body,
		cancel:  cancel,
		log:     log,
		timeout: timeout,
	}
	s.idle = time.AfterFunc(timeout, func() {
		s.timedOut.Store(true)
		cancel()
	})
	// Armed only while a read is in flight; see Next.
	s.idle.Stop()
	return s
}

// newBodyStream yields body as the only chunk.
func newBodyStream(body string) *Stream {
	return &Stream{pending: []string{body}}
}

// Next advances to the next chunk. It returns false at the end of the
// stream or on error; check Err afterwards.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	if s.scanner == nil {
		if len(s.pending) == 0 {
			s.finish()
			return false
		}
		s.current, s.pending = s.pending[0], s.pending[1:]
		return true
	}

	for s.scan() {
		chunk, end, ok := parseLine(s.scanner.Text())
		if end {
			s.finish()
			return false
		}
		if !ok {
			continue
		}
		s.current = chunk
		return true
	}

	if err := s.scanner.Err(); err != nil {
		if s.timedOut.Load() {
			err = fmt.Errorf("no data received for %s: %w", s.timeout, context.DeadlineExceeded)
		}
		s.log.Error("foundry stream read failed", "error", err)
		s.err = &TransportError{Op: "read stream", Err: err}
	}
	s.finish()
	return false
}

// scan reads one line with the idle timer running. Time the caller spends
// between calls to Next does not count against the timeout.
func (s *Stream) scan() bool {
	s.idle.Reset(s.timeout)
	ok := s.scanner.Scan()
	s.idle.Stop()
	return ok
}

// Chunk returns the chunk produced by the last successful Next.
func (s *Stream) Chunk() string {
	return s.current
}

// Err returns the error that ended the stream, or nil on a clean end.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the connection. It is safe to call at any point and more
// than once.
func (s *Stream) Close() error {
	s.finish()
	return nil
}

func (s *Stream) finish() {
	if s.done {
		return
	}
	s.done = true
	s.current = ""
	if s.idle != nil {
		s.idle.Stop()
	}
	if s.body != nil {
		s.body.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// parseLine applies the framing rules to one line. Blank lines produce
// nothing, "data: " is stripped, a "[DONE]" payload ends the stream and any
// other line is passed through verbatim.
func parseLine(line string) (chunk string, end, ok bool) {
	if strings.TrimSpace(line) == "" {
		return "", false, false
	}
	if data, found := strings.CutPrefix(line, "data: "); found {
		if strings.TrimSpace(data) == "[DONE]" {
			return "", true, false
		}
		return data, false, true
	}
	return line, false, true
}
