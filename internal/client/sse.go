package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxEventSize bounds a single SSE line (64KB)
const maxEventSize = 64 * 1024

// SSEReader parses Server-Sent Events from a stream
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReaderSize(r, 4096)}
}

// ReadEvent reads the next event. It returns io.EOF when the stream ends.
// Comment lines and unknown fields are ignored.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var (
		name      string
		dataLines [][]byte
		size      int
	)

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(dataLines) > 0 {
				return name, bytes.Join(dataLines, []byte("\n")), nil
			}
			return "", nil, err
		}

		size += len(line)
		if size > maxEventSize {
			return "", nil, fmt.Errorf("event exceeds %d bytes", maxEventSize)
		}

		line = bytes.TrimRight(line, "\r\n")

		// 空行でイベント終端
		if len(line) == 0 {
			if len(dataLines) > 0 || name != "" {
				return name, bytes.Join(dataLines, []byte("\n")), nil
			}
			size = 0
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			name = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := line[5:]
			if len(data) > 0 && data[0] == ' ' {
				data = data[1:]
			}
			dataLines = append(dataLines, append([]byte(nil), data...))
		}
	}
}

// EventStream is an open push channel
type EventStream struct {
	*SSEReader
	body io.ReadCloser
}

// Close ends the stream
func (e *EventStream) Close() error {
	return e.body.Close()
}

// Events opens the server's SSE push channel. The caller must Close the stream.
func (c *Client) Events(ctx context.Context) (*EventStream, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/events", nil, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return &EventStream{SSEReader: NewSSEReader(resp.Body), body: resp.Body}, nil
}
