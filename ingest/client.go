// Package ingest talks to the WiGLE file ingestion API: upload a capture,
// list upload transactions and fetch a transaction's result file.
//
// Uploads are never retried because the service does not deduplicate
// them. Reads retry with exponential backoff on 5xx responses and network
// errors; 4xx responses fail immediately.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FadeVT/Frostband/iox"
)

// DefaultBaseURL is the public WiGLE API v2 root.
const DefaultBaseURL = "https://api.wigle.net/api/v2"

// DefaultRetries is the default number of retry attempts for reads.
const DefaultRetries = 3

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 512

// Credentials supplies HTTP basic auth for one request at a time.
type Credentials interface {
	Basic(fn func(name, token string) error) error
}

// Uploader is the part of the client pipelines depend on.
type Uploader interface {
	Upload(ctx context.Context, name string, body io.Reader) (Receipt, error)
}

// Config configures the client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// Timeout is the per-request timeout. Zero means no timeout.
	Timeout time.Duration
	// Retries applies to reads only (default 3).
	Retries *int
}

// Receipt is the service's acknowledgment of an upload.
// TransactionID is empty when the service accepted the file without one.
type Receipt struct {
	TransactionID string
}

// Transaction is one upload as tracked by the service.
type Transaction struct {
	TransID       string `json:"transid"`
	FileName      string `json:"fileName,omitempty"`
	Status        string `json:"status,omitempty"`
	DiscoveredGPS int64  `json:"discoveredGps,omitempty"`
}

// Date returns the YYYYMMDD prefix of the transaction id, or "" when the
// id is too short.
func (t Transaction) Date() string {
	if len(t.TransID) < 8 {
		return ""
	}
	return t.TransID[:8]
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Retriable reports whether the status is worth retrying.
func (e *StatusError) Retriable() bool {
	return e.Code >= 500
}

// ErrRejected is returned when the service answers 2xx with success=false.
var ErrRejected = errors.New("rejected by service")

// Client is an HTTP client for the ingestion API.
type Client struct {
	baseURL string
	retries int
	creds   Credentials
	http    *http.Client
}

// New creates a client.
func New(cfg Config, creds Credentials) (*Client, error) {
	if creds == nil {
		return nil, errors.New("ingest client requires credentials")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	retries := DefaultRetries
	if cfg.Retries != nil {
		if *cfg.Retries < 0 {
			return nil, fmt.Errorf("retries must be >= 0, got %d", *cfg.Retries)
		}
		retries = *cfg.Retries
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		retries: retries,
		creds:   creds,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// uploadResponse covers the shapes the upload endpoint answers with.
type uploadResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	TransID string `json:"transid"`
	Results *struct {
		TransID string `json:"transid"`
	} `json:"results"`
}

// Upload posts body as multipart field "file" named name. A transport
// error, non-2xx status, malformed JSON or success=false is an error.
func (c *Client) Upload(ctx context.Context, name string, body io.Reader) (Receipt, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err == nil {
			_, err = io.Copy(part, body)
		}
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()
	// Unblocks the writer goroutine if the request fails before draining.
	defer iox.DiscardClose(pr)

	var parsed uploadResponse
	err := c.creds.Basic(func(user, token string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/file/upload", pr)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.SetBasicAuth(user, token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return c.doJSON(req, &parsed)
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("upload %s: %w", name, err)
	}

	if parsed.Success != nil && !*parsed.Success {
		msg := parsed.Message
		if msg == "" {
			msg = "no message"
		}
		return Receipt{}, fmt.Errorf("upload %s: %w: %s", name, ErrRejected, msg)
	}
	id := parsed.TransID
	if id == "" && parsed.Results != nil {
		id = parsed.Results.TransID
	}
	return Receipt{TransactionID: id}, nil
}

type transactionsResponse struct {
	Success *bool         `json:"success"`
	Message string        `json:"message"`
	Results []Transaction `json:"results"`
}

// Transactions lists the first page of upload transactions.
func (c *Client) Transactions(ctx context.Context) ([]Transaction, error) {
	var parsed transactionsResponse
	err := c.getWithRetry(ctx, "/file/transactions?pagestart=0", "application/json", func(r io.Reader) error {
		if err := json.NewDecoder(r).Decode(&parsed); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if parsed.Success != nil && !*parsed.Success {
		return nil, fmt.Errorf("list transactions: %w: %s", ErrRejected, parsed.Message)
	}
	return parsed.Results, nil
}

// FetchResult writes the KML result of a transaction into w. Each attempt
// is buffered and only a complete body reaches w.
func (c *Client) FetchResult(ctx context.Context, transID string, w io.Writer) error {
	if transID == "" {
		return errors.New("fetch result: empty transaction id")
	}
	var buf bytes.Buffer
	err := c.getWithRetry(ctx, "/file/kml/"+url.PathEscape(transID), "*/*", func(r io.Reader) error {
		buf.Reset()
		_, err := io.Copy(&buf, r)
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch result %s: %w", transID, err)
	}
	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("fetch result %s: write: %w", transID, err)
	}
	return nil
}

func (c *Client) getWithRetry(ctx context.Context, path, accept string, read func(io.Reader) error) error {
	var lastErr error
	attempts := 1 + c.retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		sent := false
		lastErr = c.creds.Basic(func(user, token string) error {
			sent = true
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.SetBasicAuth(user, token)
			req.Header.Set("Accept", accept)
			return c.do(req, read)
		})
		if lastErr == nil {
			return nil
		}
		if !sent || !isRetriable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// isRetriable is false for errors that repeat deterministically.
func isRetriable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retriable()
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr)
}

func (c *Client) doJSON(req *http.Request, v any) error {
	return c.do(req, func(r io.Reader) error {
		if err := json.NewDecoder(r).Decode(v); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

// do performs one request and hands a 2xx body to read.
func (c *Client) do(req *http.Request, read func(io.Reader) error) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if err := read(resp.Body); err != nil {
		return err
	}
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

var _ Uploader = (*Client)(nil)
