package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/tensorbuffers/internal/cache"
	"github.com/samcharles93/tensorbuffers/internal/metrics"
	"github.com/samcharles93/tensorbuffers/pkg/tbuf"
)

type testEnv struct {
	handler http.Handler
	metrics *metrics.Metrics
	reader  *tbuf.Reader
}

func newTestEnv(t *testing.T, withOps bool) testEnv {
	t.Helper()

	buf := &tbuf.Buffer{}
	w, err := tbuf.NewWriter(buf, tbuf.WithModel("tiny"))
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w1, err := w.AddTensor("w1", []uint64{2, 2}, tbuf.Float32, tbuf.Encode([]float32{1, 2, 3, 4}))
	if err != nil {
		t.Fatalf("add w1: %v", err)
	}
	w2, err := w.AddTensor("w2", []uint64{4}, tbuf.Int8, tbuf.Encode([]int8{9, 8, 7, 6}))
	if err != nil {
		t.Fatalf("add w2: %v", err)
	}
	if withOps {
		if _, err := w.AddOperation(1, tbuf.OpMatMul, w1.ID, nil); err != nil {
			t.Fatalf("add op 1: %v", err)
		}
		if _, err := w.AddOperation(2, tbuf.OpRelu, w2.ID, []uint64{1}); err != nil {
			t.Fatalf("add op 2: %v", err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	r, err := tbuf.NewReader(context.Background(), buf.Source())
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })

	m := metrics.New()
	srv := New(cache.New(r, cache.Options{Observer: m}), Options{Metrics: m})
	e := echo.New()
	srv.Register(e)
	return testEnv{handler: srv.Instrument(e), metrics: m, reader: r}
}

func (env testEnv) get(t *testing.T, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestMetadataAndTensorListing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)

	rec := env.get(t, "/v1/metadata", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metadata status = %d body=%s", rec.Code, rec.Body.String())
	}
	md := decodeBody[metadataResponse](t, rec)
	if md.Version != tbuf.SchemaVersion || md.Model != "tiny" || md.Tensors != 2 || md.Operations != nil {
		t.Fatalf("metadata = %+v", md)
	}
	if md.Size != env.reader.Size() {
		t.Fatalf("size = %d, want %d", md.Size, env.reader.Size())
	}

	rec = env.get(t, "/v1/tensors", nil)
	list := decodeBody[struct {
		Data []tbuf.TensorMetadata `json:"data"`
	}](t, rec)
	if diff := cmp.Diff(env.reader.Tensors(), list.Data); diff != "" {
		t.Fatalf("tensor list (-want +got):\n%s", diff)
	}

	rec = env.get(t, "/v1/tensors/w2", nil)
	got := decodeBody[tbuf.TensorMetadata](t, rec)
	if got.ID != tbuf.HashName("w2") || got.DataType != tbuf.Int8 || got.DataOffset != 20 {
		t.Fatalf("w2 = %+v", got)
	}
}

func TestTensorDataIsCached(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	for range 2 {
		rec := env.get(t, "/v1/tensors/w2/data", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if diff := cmp.Diff([]byte{9, 8, 7, 6}, rec.Body.Bytes()); diff != "" {
			t.Fatalf("payload (-want +got):\n%s", diff)
		}
		if rec.Header().Get(HeaderDataType) != "Int8" || rec.Header().Get(HeaderShape) != "4" {
			t.Fatalf("headers = %v", rec.Header())
		}
	}

	rec := env.get(t, "/metrics", nil)
	body := rec.Body.String()
	for _, want := range []string{
		`tensorbuffers_tensor_fetches_total{cache="hit"} 1`,
		`tensorbuffers_tensor_fetches_total{cache="miss"} 1`,
		`tensorbuffers_http_requests_total{code="200",route="/v1/tensors/:name/data"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestErrorsAreJSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	for _, path := range []string{"/v1/tensors/nope", "/v1/tensors/nope/data"} {
		rec := env.get(t, path, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
		body := decodeBody[struct {
			Error errorBody `json:"error"`
		}](t, rec)
		if body.Error.Type != "not_found_error" || !strings.Contains(body.Error.Message, "nope") {
			t.Fatalf("%s error = %+v", path, body.Error)
		}
	}
}

func TestOperationsInTopologicalOrder(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)
	rec := env.get(t, "/v1/operations", nil)
	body := decodeBody[struct {
		Present bool                     `json:"present"`
		Data    []tbuf.OperationMetadata `json:"data"`
	}](t, rec)
	if !body.Present || len(body.Data) != 2 {
		t.Fatalf("operations = %+v", body)
	}
	if body.Data[0].ID != 1 || body.Data[1].ID != 2 || body.Data[1].Operation != tbuf.OpRelu {
		t.Fatalf("order = %+v", body.Data)
	}

	empty := newTestEnv(t, false)
	rec = empty.get(t, "/v1/operations", nil)
	none := decodeBody[struct {
		Present bool `json:"present"`
	}](t, rec)
	if none.Present {
		t.Fatal("container without graph reported operations")
	}
}

func TestContainerRangeRequests(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	rec := env.get(t, "/container", http.Header{"Range": {"bytes=0-3"}})
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != tbuf.Magic {
		t.Fatalf("body = %q, want magic", rec.Body.String())
	}

	rec = env.get(t, "/container", http.Header{"Range": {"bytes=100000-"}})
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("unsatisfiable status = %d", rec.Code)
	}
}

func TestServedContainerIsReadableRemotely(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx := context.Background()
	remote, err := tbuf.OpenURL(ctx, ts.URL+"/container", tbuf.HTTPOptions{MaxRetries: -1})
	if err != nil {
		t.Fatalf("open remote: %v", err)
	}
	defer func() { _ = remote.Close() }()

	if diff := cmp.Diff(env.reader.Metadata(), remote.Metadata()); diff != "" {
		t.Fatalf("metadata (-local +remote):\n%s", diff)
	}
	tensor, err := remote.FetchByName(ctx, "w1")
	if err != nil {
		t.Fatalf("fetch w1: %v", err)
	}
	vals, err := tensor.Float32()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff([]float32{1, 2, 3, 4}, vals); diff != "" {
		t.Fatalf("w1 (-want +got):\n%s", diff)
	}
}
