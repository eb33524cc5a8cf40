package tbuf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	rhttp "github.com/hashicorp/go-retryablehttp"

	"github.com/samcharles93/tensorbuffers/internal/logger"
)

const (
	defaultHTTPTimeout  = 30 * time.Second
	defaultMaxRetries   = 4
	defaultRetryWaitMin = 200 * time.Millisecond
	defaultRetryWaitMax = 5 * time.Second
	requestIDHeader     = "X-Request-Id"
)

// RangeObserver is notified once per logical range read.
type RangeObserver interface {
	ObserveRange(n int64, d time.Duration, err error)
}

// HTTPOptions configures an HTTPSource. Zero values select defaults.
type HTTPOptions struct {
	// Timeout bounds each HTTP request, body included. Negative disables it.
	Timeout time.Duration
	// MaxRetries is the retry ceiling per range read. Negative disables retries.
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Header is sent with every request, typically credentials.
	Header http.Header
	// Size skips size discovery when positive.
	Size int64

	Logger     logger.Logger
	Observer   RangeObserver
	HTTPClient *http.Client
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.Timeout == 0 {
		o.Timeout = defaultHTTPTimeout
	}
	switch {
	case o.MaxRetries == 0:
		o.MaxRetries = defaultMaxRetries
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	}
	if o.RetryWaitMin <= 0 {
		o.RetryWaitMin = defaultRetryWaitMin
	}
	if o.RetryWaitMax <= 0 {
		o.RetryWaitMax = defaultRetryWaitMax
	}
	if o.RetryWaitMax < o.RetryWaitMin {
		o.RetryWaitMax = o.RetryWaitMin
	}
	return o
}

// HTTPSource reads container ranges from a URL with HTTP range requests.
// Servers that answer a range request with the full object are rejected
// with ErrUnsupportedRange.
type HTTPSource struct {
	url    string
	size   int64
	opts   HTTPOptions
	client *rhttp.Client
}

// OpenHTTP prepares a source for url and discovers the object size.
func OpenHTTP(ctx context.Context, url string, opts HTTPOptions) (*HTTPSource, error) {
	opts = opts.withDefaults()

	client := rhttp.NewClient()
	if opts.HTTPClient != nil {
		hc := *opts.HTTPClient
		client.HTTPClient = &hc
	}
	if opts.Timeout > 0 {
		client.HTTPClient.Timeout = opts.Timeout
	}
	client.RetryMax = opts.MaxRetries
	client.RetryWaitMin = opts.RetryWaitMin
	client.RetryWaitMax = opts.RetryWaitMax
	client.CheckRetry = retryPolicy
	if opts.Logger != nil {
		client.Logger = opts.Logger
	} else {
		client.Logger = nil // disable logging every request
	}

	s := &HTTPSource{
		url:    url,
		size:   opts.Size,
		opts:   opts,
		client: client,
	}
	if s.size > 0 {
		return s, nil
	}
	size, err := s.discoverSize(ctx)
	if err != nil {
		return nil, err
	}
	s.size = size
	return s, nil
}

func (s *HTTPSource) Size() int64 { return s.size }

// URL returns the object location.
func (s *HTTPSource) URL() string { return s.url }

func (s *HTTPSource) Close() error {
	s.client.HTTPClient.CloseIdleConnections()
	return nil
}

func (s *HTTPSource) newRequest(ctx context.Context, method string) (*rhttp.Request, error) {
	req, err := rhttp.NewRequestWithContext(ctx, method, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrIO, err)
	}
	for k, vs := range s.opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(requestIDHeader, uuid.NewString())
	return req, nil
}

// discoverSize asks for Content-Length with HEAD and falls back to a one
// byte range request when HEAD is refused or carries no length.
func (s *HTTPSource) discoverSize(ctx context.Context) (int64, error) {
	req, err := s.newRequest(ctx, http.MethodHead)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err == nil {
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusOK && resp.ContentLength >= 0 {
			return resp.ContentLength, nil
		}
	} else if ctx.Err() != nil {
		return 0, fmt.Errorf("%w: head %s: %w", ErrIO, s.url, err)
	}

	req, err = s.newRequest(ctx, http.MethodGet)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err = s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: discover size of %s: %w", ErrIO, s.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		size, err := parseContentRangeSize(resp.Header.Get("Content-Range"))
		if err != nil {
			return 0, fmt.Errorf("%w: discover size of %s: %w", ErrIO, s.url, err)
		}
		return size, nil
	case http.StatusOK:
		return 0, fmt.Errorf("%w: %s answered a range request with status 200", ErrUnsupportedRange, s.url)
	default:
		return 0, fmt.Errorf("%w: discover size of %s: unexpected status %s", ErrIO, s.url, resp.Status)
	}
}

// parseContentRangeSize extracts N from "bytes a-b/N".
func parseContentRangeSize(v string) (int64, error) {
	_, total, ok := strings.Cut(v, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("unusable Content-Range %q", v)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(total), 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("unusable Content-Range %q", v)
	}
	return size, nil
}

// errBody marks a failed or short response body; those reads are retried.
type errBody struct{ err error }

func (e *errBody) Error() string { return "read body: " + e.err.Error() }
func (e *errBody) Unwrap() error { return e.err }

// errContentRange marks a 206 response covering other bytes than requested.
type errContentRange struct {
	got        string
	start, end int64
}

func (e *errContentRange) Error() string {
	return fmt.Sprintf("Content-Range %q does not cover bytes %d-%d", e.got, e.start, e.end)
}

// retryPolicy is the default policy except that a mismatched range is final.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	var cr *errContentRange
	if errors.As(err, &cr) {
		return false, err
	}
	return rhttp.DefaultRetryPolicy(ctx, resp, err)
}

// parseContentRange extracts a and b from "bytes a-b/N".
func parseContentRange(v string) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if ok {
		spec, _, ok = strings.Cut(spec, "/")
	}
	var first, last string
	if ok {
		first, last, ok = strings.Cut(spec, "-")
	}
	if !ok {
		return 0, 0, fmt.Errorf("unusable Content-Range %q", v)
	}
	if start, err = strconv.ParseInt(first, 10, 64); err == nil {
		end, err = strconv.ParseInt(last, 10, 64)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("unusable Content-Range %q", v)
	}
	return start, end, nil
}

// ReadRange issues a GET with Range: bytes=off-(off+n-1). Any failure of
// the request or its body draws on one budget of MaxRetries retries.
func (s *HTTPSource) ReadRange(ctx context.Context, off, n int64) ([]byte, error) {
	if err := checkRange(off, n, s.size); err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}

	start := time.Now()
	data, err := s.readRange(ctx, off, n)
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveRange(int64(len(data)), time.Since(start), err)
	}
	return data, err
}

func (s *HTTPSource) readRange(ctx context.Context, off, n int64) ([]byte, error) {
	req, err := s.newRequest(ctx, http.MethodGet)
	if err != nil {
		return nil, err
	}
	last := off + n - 1
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, last))

	// The body is read inside the retry loop so a short body costs one
	// attempt like any other failure.
	buf := make([]byte, n)
	req.SetResponseHandler(func(resp *http.Response) error {
		if resp.StatusCode != http.StatusPartialContent {
			return nil
		}
		cr := resp.Header.Get("Content-Range")
		if a, b, err := parseContentRange(cr); err != nil || a != off || b != last {
			return &errContentRange{got: cr, start: off, end: last}
		}
		if resp.ContentLength >= 0 && resp.ContentLength != n {
			return &errBody{err: fmt.Errorf("server sent %d bytes", resp.ContentLength)}
		}
		if _, err := io.ReadFull(resp.Body, buf); err != nil {
			return &errBody{err: err}
		}
		return nil
	})

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: range %d+%d of %s: %w", ErrIO, off, n, s.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return buf, nil
	case http.StatusOK:
		return nil, fmt.Errorf("%w: %s answered a range request with status 200", ErrUnsupportedRange, s.url)
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, &RangeError{Offset: off, Length: n, Size: s.size}
	default:
		return nil, fmt.Errorf("%w: range %d+%d of %s: unexpected status %s", ErrIO, off, n, s.url, resp.Status)
	}
}
