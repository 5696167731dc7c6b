package llm

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"sparkie/internal/domain"
)

// maxSSELine bounds a single SSE line; tool call argument chunks can be long.
const maxSSELine = 1024 * 1024

var (
	sseDataPrefix = []byte("data:")
	sseDone       = []byte("[DONE]")
)

// parseSSEStream reads SSE-formatted lines from body and converts each data
// payload into a StreamDelta using parseLine. Exactly one Done delta is sent
// before the channel closes, unless ctx is cancelled first.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		send := func(d domain.StreamDelta) bool {
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			line := scanner.Bytes()
			if len(line) == 0 || line[0] == ':' || !bytes.HasPrefix(line, sseDataPrefix) {
				continue
			}
			data := bytes.TrimSpace(bytes.TrimPrefix(line, sseDataPrefix))

			if bytes.Equal(data, sseDone) {
				send(domain.StreamDelta{Done: true})
				return
			}

			delta, err := parseLine(data)
			if err != nil || delta == nil {
				continue
			}
			if !send(*delta) || delta.Done {
				return
			}
		}
		// EOF or a read error without [DONE] still terminates the stream.
		send(domain.StreamDelta{Done: true})
	}()
	return ch
}
