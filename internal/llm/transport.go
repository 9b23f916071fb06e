package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody caps how much of a failed response is read into an error.
const maxErrorBody = 4096

// statusChecker turns a non-200 response into a provider error. The body
// passed in is already truncated to maxErrorBody.
type statusChecker func(status int, body []byte) error

// postJSON sends body as JSON and returns the response once the status
// has been checked. The caller owns resp.Body.
func postJSON(ctx context.Context, client *http.Client, url string, body interface{},
	header http.Header, check statusChecker) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderDown, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, check(resp.StatusCode, raw)
	}
	return resp, nil
}

// getOK issues a GET and reports ErrProviderDown for anything but 200.
func getOK(ctx context.Context, client *http.Client, url string, header http.Header) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProviderDown, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("%w: status %d", ErrProviderDown, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// chunkSink delivers stream chunks until the consumer's context ends.
type chunkSink struct {
	ctx context.Context
	ch  chan<- StreamChunk
}

// send reports false once the context is done; the reader must then stop.
func (s chunkSink) send(c StreamChunk) bool {
	select {
	case s.ch <- c:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// stream runs read over a response body on its own goroutine and returns
// the channel it feeds. The channel is closed when read returns.
func stream(ctx context.Context, body io.ReadCloser, read func(*bufio.Scanner, chunkSink) error) <-chan StreamChunk {
	ch := make(chan StreamChunk, 64)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		sink := chunkSink{ctx: ctx, ch: ch}
		if err := read(scanner, sink); err != nil {
			sink.send(StreamChunk{Err: err})
			return
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			sink.send(StreamChunk{Err: fmt.Errorf("llm: stream read: %w", err)})
		}
	}()
	return ch
}
