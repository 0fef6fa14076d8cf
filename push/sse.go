package push

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
)

// MaxFrameSize caps one SSE line and the data of one frame.
const MaxFrameSize = 1 << 20

var ErrFrameTooLarge = errors.New("sse frame too large")

// SSE connects to a text/event-stream endpoint.
type SSE struct {
	URL    string
	Client *http.Client
}

func NewSSE(url string, client *http.Client) *SSE {
	if client == nil {
		client = &http.Client{}
	}
	return &SSE{URL: url, Client: client}
}

func (t *SSE) Connect(ctx context.Context, token string) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", t.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("connect %s: unexpected status %s", t.URL, resp.Status)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("connect %s: unexpected content type %q", t.URL, resp.Header.Get("Content-Type"))
	}

	return newSSEStream(resp.Body, MaxFrameSize), nil
}

type sseStream struct {
	body     io.ReadCloser
	scanner  *bufio.Scanner
	maxFrame int
	once     sync.Once
}

func newSSEStream(body io.ReadCloser, maxFrame int) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), maxFrame)
	return &sseStream{body: body, scanner: scanner, maxFrame: maxFrame}
}

// Recv returns the data of the next dispatched frame. Comment lines, frames
// without data and every field other than data are consumed silently; the
// event id travels inside the JSON payload.
func (s *sseStream) Recv() ([]byte, error) {
	var data bytes.Buffer
	hasData := false

	for {
		if !s.scanner.Scan() {
			err := s.scanner.Err()
			switch {
			case err == nil:
				return nil, io.ErrUnexpectedEOF
			case errors.Is(err, bufio.ErrTooLong):
				return nil, fmt.Errorf("%w: line over %d bytes", ErrFrameTooLarge, s.maxFrame)
			default:
				return nil, err
			}
		}
		line := s.scanner.Text()

		if line == "" {
			if hasData {
				return data.Bytes(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		if field == "data" {
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
			if data.Len() > s.maxFrame {
				return nil, fmt.Errorf("%w: data over %d bytes", ErrFrameTooLarge, s.maxFrame)
			}
		}
	}
}

func (s *sseStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.body.Close()
	})
	return err
}
