package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	j "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reoring/apimeta"
	"github.com/reoring/apimeta/internal/metrics"
	"github.com/reoring/apimeta/internal/store"
)

const testSchema = `{
	"$schema": "http://json-schema.org/draft-04/schema#",
	"type": "object",
	"required": ["openapi", "info"],
	"properties": {
		"openapi": {"type": "string"},
		"info": {"type": "object", "required": ["title"]}
	}
}`

const validDoc = `{"openapi":"3.0.0","info":{"title":"Genes"},"paths":{"/b":{"get":{}},"/a":{"post":{}}}}`

type memStore struct {
	mu   sync.Mutex
	recs map[string]store.Record
}

func (m *memStore) Put(_ context.Context, rec store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recs == nil {
		m.recs = map[string]store.Record{}
	}
	m.recs[rec.ID] = rec
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

type recordingPublisher struct {
	ids []string
	err error
}

func (p *recordingPublisher) Publish(_ context.Context, id string, _ *apimeta.Document) error {
	p.ids = append(p.ids, id)
	return p.err
}

type fixture struct {
	handler   http.Handler
	metrics   *metrics.Collector
	store     *memStore
	publisher *recordingPublisher
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	schema, err := apimeta.CompileSchema("", []byte(testSchema))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	f := &fixture{
		metrics:   metrics.NewWithRegistry(reg),
		store:     &memStore{},
		publisher: &recordingPublisher{},
	}
	opts := Options{
		Schema:    schema,
		Store:     f.store,
		Publisher: f.publisher,
		Metrics:   f.metrics,
		Gatherer:  reg,
		Logger:    zerolog.Nop(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.handler = New(opts).Router()
	return f
}

func (f *fixture) do(method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestValidate(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/validate", "application/json", validDoc)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":true}`, rec.Body.String())

	rec = f.do(http.MethodPost, "/v1/validate", "application/json", `{"info":{"title":"x"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res map[string]any
	require.NoError(t, j.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, false, res["valid"])
	assert.Contains(t, res["error"], "openapi")
	assert.NotContains(t, res, "issues")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Validations.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Validations.WithLabelValues("invalid")))
}

func TestValidate_All(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/v1/validate?all=true", "application/json", `{"info":{}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Valid  bool            `json:"valid"`
		Error  string          `json:"error"`
		Issues []apimeta.Issue `json:"issues"`
	}
	require.NoError(t, j.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Valid)
	assert.Len(t, res.Issues, 2)
}

func TestValidate_YAMLBody(t *testing.T) {
	f := newFixture(t)
	body := "openapi: 3.0.0\ninfo:\n  title: Genes\npaths: {}\n"
	rec := f.do(http.MethodPost, "/v1/validate", "application/yaml", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":true}`, rec.Body.String())
}

func TestValidate_MalformedBody(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/validate", "application/json", `{"openapi":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/v1/validate", "application/json", `{"a":1,"a":2}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var payload errorPayload
	require.NoError(t, j.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Issues, 1)
	assert.Equal(t, apimeta.CodeDuplicateKey, payload.Issues[0].Code)
}

func TestValidate_BodyTooLarge(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxBodyBytes = 16 })
	rec := f.do(http.MethodPost, "/v1/validate", "application/json", validDoc)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestTransform(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/v1/transform", "application/json", validDoc)
	require.Equal(t, http.StatusOK, rec.Code)

	idx, err := apimeta.DecodeJSONBytes(rec.Body.Bytes(), apimeta.DecodeOpt{})
	require.NoError(t, err)
	assert.Equal(t, []string{"openapi", "info", "paths", apimeta.RawField}, idx.Keys())

	paths, _ := idx.Get("paths")
	list, ok := paths.([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	first := list[0].(*apimeta.Document)
	p, _ := first.Get("path")
	assert.Equal(t, "/b", p)

	orig, err := apimeta.RawDocument(idx)
	require.NoError(t, err)
	want, _ := apimeta.DecodeJSONBytes([]byte(validDoc), apimeta.DecodeOpt{})
	assert.Equal(t, want.String(), orig.String())
}

func TestTransform_MissingPaths(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/v1/transform", "application/json", `{"openapi":"3.0.0"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "paths")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Transforms.WithLabelValues("error")))
}

func TestTransform_ValidateFirst(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/v1/transform?validate=true", "application/json", `{"paths":{}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":false`)
}

func TestRawDecode(t *testing.T) {
	f := newFixture(t)
	doc, err := apimeta.DecodeJSONBytes([]byte(validDoc), apimeta.DecodeOpt{})
	require.NoError(t, err)
	token, err := apimeta.EncodeRaw(doc)
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/v1/raw/decode", "application/json", `{"raw":"`+token+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, doc.String(), strings.TrimSpace(rec.Body.String()))
}

func TestRawDecode_Errors(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/v1/raw/decode", "application/json", `{"raw":"***"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stage":"base64"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RawDecodeErrors.WithLabelValues("base64")))

	rec = f.do(http.MethodPost, "/v1/raw/decode", "application/json", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndex_StoreAndPublish(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/v1/index?url=https://example.org/genes.json", "application/json", validDoc)
	require.Equal(t, http.StatusCreated, rec.Code)

	var out map[string]string
	require.NoError(t, j.Unmarshal(rec.Body.Bytes(), &out))
	id := apimeta.IndexID("https://example.org/genes.json")
	assert.Equal(t, id, out["id"])
	assert.Equal(t, []string{id}, f.publisher.ids)

	rec = f.do(http.MethodGet, "/v1/index/"+id, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"~raw"`)

	rec = f.do(http.MethodGet, "/v1/index/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIndex_RejectsInvalid(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/v1/index?id=x", "application/json", `{"paths":{}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, f.store.recs)
}

func TestIndex_PublishFailure(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")
	rec := f.do(http.MethodPost, "/v1/index?id=x", "application/json", validDoc)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestIndex_DisabledWithoutStore(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Store = nil })
	rec := f.do(http.MethodPost, "/v1/index?id=x", "application/json", validDoc)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/healthz", "", "")

	rec := f.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `apimeta_requests_total{method="GET",route="/healthz",status="200"} 1`)
}
