// Package server exposes a read-only HTTP API over an open container.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/tensorbuffers/internal/cache"
	"github.com/samcharles93/tensorbuffers/internal/logger"
	"github.com/samcharles93/tensorbuffers/internal/metrics"
	"github.com/samcharles93/tensorbuffers/pkg/tbuf"
)

const (
	HeaderDataType = "X-Tensor-Dtype"
	HeaderShape    = "X-Tensor-Shape"
	HeaderOffset   = "X-Tensor-Offset"
)

type Server struct {
	fetcher *cache.Fetcher
	metrics *metrics.Metrics
	log     logger.Logger
	name    string
	modTime time.Time
}

type Options struct {
	// Name is the file name reported for /container downloads.
	Name    string
	ModTime time.Time
	Metrics *metrics.Metrics
	Logger  logger.Logger
}

func New(fetcher *cache.Fetcher, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "container.tbuf"
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Server{
		fetcher: fetcher,
		metrics: opts.Metrics,
		log:     opts.Logger,
		name:    opts.Name,
		modTime: opts.ModTime,
	}
}

func (s *Server) Register(e *echo.Echo) {
	s.get(e, "/v1/metadata", s.handleMetadata)
	s.get(e, "/v1/tensors", s.handleListTensors)
	s.get(e, "/v1/tensors/:name", s.handleGetTensor)
	s.get(e, "/v1/tensors/:name/data", s.handleTensorData)
	s.get(e, "/v1/operations", s.handleOperations)
	s.get(e, "/container", s.handleContainer)
	e.HEAD("/container", s.handleContainer)
	if s.metrics != nil {
		s.get(e, "/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

// Instrument wraps h so every request is counted by route and status.
func (s *Server) Instrument(h http.Handler) http.Handler {
	if s.metrics == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := "unmatched"
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), routeKey{}, &route)))
		s.metrics.ObserveRequest(route, rec.status, time.Since(start))
	})
}

type routeKey struct{}

func (s *Server) get(e *echo.Echo, path string, h echo.HandlerFunc) {
	e.GET(path, func(c *echo.Context) error {
		if p, ok := c.Request().Context().Value(routeKey{}).(*string); ok {
			*p = path
		}
		return h(c)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

type metadataResponse struct {
	Version        string `json:"version"`
	Model          string `json:"model,omitempty"`
	Size           int64  `json:"size"`
	MetadataOffset int64  `json:"metadata_offset"`
	MetadataSize   int64  `json:"metadata_size"`
	Tensors        int    `json:"tensors"`
	Operations     *int   `json:"operations,omitempty"`
}

func (s *Server) handleMetadata(c *echo.Context) error {
	r := s.fetcher.Reader()
	resp := metadataResponse{
		Version:        r.Version(),
		Model:          r.Model(),
		Size:           r.Size(),
		MetadataOffset: r.MetadataOffset(),
		MetadataSize:   r.MetadataSize(),
		Tensors:        r.NumTensors(),
	}
	if r.HasOperations() {
		n := len(r.Operations())
		resp.Operations = &n
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListTensors(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   s.fetcher.Reader().Tensors(),
	})
}

func (s *Server) handleGetTensor(c *echo.Context) error {
	tm, err := s.fetcher.Reader().TensorByName(tensorParam(c))
	if err != nil {
		return s.writeErr(c, err)
	}
	return c.JSON(http.StatusOK, tm)
}

func (s *Server) handleTensorData(c *echo.Context) error {
	t, err := s.fetcher.FetchByName(c.Request().Context(), tensorParam(c))
	if err != nil {
		return s.writeErr(c, err)
	}
	h := c.Response().Header()
	h.Set(HeaderDataType, t.DataType().String())
	h.Set(HeaderShape, formatShape(t.Shape()))
	h.Set(HeaderOffset, strconv.FormatUint(t.Metadata.DataOffset, 10))
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, t.Data)
}

func (s *Server) handleOperations(c *echo.Context) error {
	r := s.fetcher.Reader()
	ops := r.OperationOrder()
	if ops == nil {
		ops = []tbuf.OperationMetadata{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"object":  "list",
		"present": r.HasOperations(),
		"data":    ops,
	})
}

func (s *Server) handleContainer(c *echo.Context) error {
	req := c.Request()
	src := s.fetcher.Reader().Source()
	content := io.NewSectionReader(tbuf.SourceReaderAt(req.Context(), src), 0, src.Size())
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMEOctetStream)
	http.ServeContent(c.Response(), req, s.name, s.modTime, content)
	return nil
}

func (s *Server) writeErr(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, tbuf.ErrNotFound):
		return writeError(c, http.StatusNotFound, "not_found_error", err.Error())
	case errors.Is(err, tbuf.ErrRange):
		return writeError(c, http.StatusRequestedRangeNotSatisfiable, "range_error", err.Error())
	default:
		s.log.Error("request failed", "path", c.Request().URL.Path, "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": errorBody{Message: msg, Type: errType},
	})
}

func tensorParam(c *echo.Context) string {
	name := c.Param("name")
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}

func formatShape(shape []uint64) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.FormatUint(d, 10)
	}
	return strings.Join(parts, ",")
}
