// Package providers implements the four provider adapters behind the uniform
// llm.Adapter contract: request normalization into each vendor's content
// shape, SSE stream translation into llm.StreamChunk, and embeddings where the
// vendor supports them.
package providers

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultTemperature    = 0.7
)

// Config carries the construction-time settings shared by all adapters. The
// API key is bound once and never mutated.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	// Connect timeout only; streaming reads must not be bounded by a
	// whole-request timeout.
	return &http.Client{
		Transport: http.DefaultTransport,
		Timeout:   0,
	}
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// httpStatusError is the pre-wrap form of a vendor rejection; adapters convert
// it into llm.ProviderAPIError with their display name.
type httpStatusError struct {
	StatusCode int
	Body       []byte
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, string(e.Body))
}

// postJSON opens a POST with a JSON body and returns the response with its
// body still open (the caller owns Close). Non-2xx responses are drained and
// returned as *httpStatusError.
func postJSON(ctx context.Context, client *http.Client, url string, headers http.Header, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, values := range headers {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}

	connectTimer := time.AfterFunc(defaultConnectTimeout, cancel)
	resp, err := client.Do(req)
	connectTimer.Stop()
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		cancel()
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: raw}
	}

	// Tie the context's lifetime to the body.
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// decompressReader wraps the response body according to Content-Encoding.
func decompressReader(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return &wrappedBody{reader: gz, closer: resp.Body}, nil
	case "br":
		return &wrappedBody{reader: brotli.NewReader(resp.Body), closer: resp.Body}, nil
	default:
		return resp.Body, nil
	}
}

type wrappedBody struct {
	reader io.Reader
	closer io.Closer
}

func (w *wrappedBody) Read(p []byte) (int, error) { return w.reader.Read(p) }
func (w *wrappedBody) Close() error               { return w.closer.Close() }

// sseDecoder reads Server-Sent Events and returns each event's concatenated
// data payload. Comment lines are skipped; multiple data: lines are joined
// with \n per the SSE spec.
type sseDecoder struct {
	r *bufio.Reader
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	return &sseDecoder{r: bufio.NewReaderSize(r, 64*1024)}
}

func (d *sseDecoder) Next() ([]byte, error) {
	var dataLines [][]byte
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			if len(line) > 0 {
				line = bytes.TrimRight(line, "\r\n")
				dataLines = appendDataLine(dataLines, line)
			}
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(dataLines) == 0 {
				continue
			}
			return bytes.Join(dataLines, []byte("\n")), nil
		}
		if line[0] == ':' {
			continue
		}
		dataLines = appendDataLine(dataLines, line)
	}
}

func appendDataLine(dst [][]byte, line []byte) [][]byte {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return dst
	}
	val := line[len("data:"):]
	if len(val) > 0 && val[0] == ' ' {
		val = val[1:]
	}
	return append(dst, append([]byte(nil), val...))
}

// clampMaxTokens applies the provider ceiling: unset budgets take the ceiling,
// oversized budgets are clamped to it.
func clampMaxTokens(requested, ceiling int) int {
	if requested <= 0 || requested > ceiling {
		return ceiling
	}
	return requested
}

// fetchImage downloads a remote image and returns its bytes and content type.
// Used by the Claude normalizer, which cannot pass URLs through to the vendor.
func fetchImage(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return data, contentType, nil
}

// errorMessageFromBody extracts a human-readable message from a vendor error
// payload, falling back to the raw body.
func errorMessageFromBody(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	msg := string(bytes.TrimSpace(body))
	if msg == "" {
		msg = "unknown error"
	}
	return msg
}
