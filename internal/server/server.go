// Package server exposes validation, transformation and raw decoding over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	j "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/reoring/apimeta"
	"github.com/reoring/apimeta/internal/metrics"
	"github.com/reoring/apimeta/internal/store"
)

// IndexStore persists index documents. *store.SQLiteStore implements it.
type IndexStore interface {
	Put(ctx context.Context, rec store.Record) error
	Get(ctx context.Context, id string) (*store.Record, error)
}

// IndexPublisher forwards index documents downstream. *publish.Publisher
// implements it.
type IndexPublisher interface {
	Publish(ctx context.Context, id string, index *apimeta.Document) error
}

// Options configures a Server. Schema is required; the rest is optional.
type Options struct {
	Schema       *apimeta.Schema
	Store        IndexStore
	Publisher    IndexPublisher
	Metrics      *metrics.Collector
	Gatherer     prometheus.Gatherer
	MetricsPath  string
	MaxBodyBytes int64
	Logger       zerolog.Logger
}

// Server holds the handlers' dependencies.
type Server struct {
	schema    *apimeta.Schema
	store     IndexStore
	publisher IndexPublisher
	metrics   *metrics.Collector
	gatherer  prometheus.Gatherer
	mpath     string
	maxBody   int64
	logger    zerolog.Logger
}

// New builds a Server. It panics when opts.Schema is nil.
func New(opts Options) *Server {
	if opts.Schema == nil {
		panic("server: nil schema")
	}
	s := &Server{
		schema:    opts.Schema,
		store:     opts.Store,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		gatherer:  opts.Gatherer,
		mpath:     opts.MetricsPath,
		maxBody:   opts.MaxBodyBytes,
		logger:    opts.Logger,
	}
	if s.maxBody <= 0 {
		s.maxBody = 8 << 20
	}
	if s.mpath == "" {
		s.mpath = "/metrics"
	}
	return s
}

// Router returns the HTTP handler tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		r.Handle(s.mpath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/validate", s.handleValidate)
		r.Post("/transform", s.handleTransform)
		r.Post("/raw/decode", s.handleRawDecode)
		if s.store != nil {
			r.Post("/index", s.handleIndex)
			r.Get("/index/{id}", s.handleGetIndex)
		}
	})
	return r
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.readDocument(w, r)
	if !ok {
		return
	}
	v := apimeta.NewValidator(s.schema, doc)
	var res apimeta.Result
	if queryBool(r, "all") {
		res = v.ValidateAll()
	} else {
		res = v.Validate()
	}
	s.recordValidation(res.Valid)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.readDocument(w, r)
	if !ok {
		return
	}
	if queryBool(r, "validate") && !s.checkValid(w, doc) {
		return
	}
	idx, err := apimeta.NewTransformer(doc).ToIndexDocument()
	s.recordTransform(err)
	if err != nil {
		writeTransformError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

// handleIndex validates, transforms, stores and publishes one document. The
// id comes from the "url" query parameter, or "id" when given.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.readDocument(w, r)
	if !ok {
		return
	}
	if !s.checkValid(w, doc) {
		return
	}
	idx, err := apimeta.NewTransformer(doc).ToIndexDocument()
	s.recordTransform(err)
	if err != nil {
		writeTransformError(w, err)
		return
	}
	rec, err := store.NewRecord(r.URL.Query().Get("id"), r.URL.Query().Get("url"), idx)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := s.store.Put(r.Context(), rec); err != nil {
		s.logger.Error().Err(err).Str("id", rec.ID).Msg("store index document")
		writeError(w, http.StatusInternalServerError, "store failed", nil)
		return
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(r.Context(), rec.ID, idx); err != nil {
			s.logger.Error().Err(err).Str("id", rec.ID).Msg("publish index document")
			writeError(w, http.StatusBadGateway, "publish failed", nil)
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": rec.ID})
}

func (s *Server) handleGetIndex(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("load index document")
		writeError(w, http.StatusInternalServerError, "store failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, rec.Document)
}

type rawRequest struct {
	Raw *string `json:"raw"`
}

func (s *Server) handleRawDecode(w http.ResponseWriter, r *http.Request) {
	var req rawRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		writeBodyError(w, err)
		return
	}
	if err := j.Unmarshal(body, &req); err != nil || req.Raw == nil {
		writeError(w, http.StatusBadRequest, `body must be {"raw": "<token>"}`, nil)
		return
	}
	doc, err := apimeta.DecodeRaw(*req.Raw)
	if err != nil {
		var de *apimeta.DecodeError
		if errors.As(err, &de) {
			if s.metrics != nil {
				s.metrics.RawDecodeErrors.WithLabelValues(string(de.Stage)).Inc()
			}
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": de.Error(), "stage": string(de.Stage)})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// checkValid writes a 422 carrying the validation result when doc fails the
// schema.
func (s *Server) checkValid(w http.ResponseWriter, doc *apimeta.Document) bool {
	res := apimeta.NewValidator(s.schema, doc).Validate()
	s.recordValidation(res.Valid)
	if !res.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return false
	}
	return true
}

// readDocument decodes the request body as YAML when the media type says so
// and as JSON otherwise. Failures are answered here.
func (s *Server) readDocument(w http.ResponseWriter, r *http.Request) (*apimeta.Document, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		writeBodyError(w, err)
		return nil, false
	}
	opt := apimeta.StrictDecodeOpt()

	var doc *apimeta.Document
	if isYAML(r.Header.Get("Content-Type")) {
		doc, err = apimeta.DecodeYAMLBytes(body, opt)
	} else {
		doc, err = apimeta.DecodeJSONBytes(body, opt)
	}
	if err != nil {
		writeBodyError(w, err)
		return nil, false
	}
	return doc, true
}

func isYAML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.Contains(mt, "yaml")
}

func queryBool(r *http.Request, name string) bool {
	b, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && b
}

func (s *Server) recordValidation(valid bool) {
	if s.metrics != nil {
		s.metrics.RecordValidation(valid)
	}
}

func (s *Server) recordTransform(err error) {
	if s.metrics != nil {
		s.metrics.RecordTransform(err)
	}
}

// observe logs each request and feeds the request metrics, labelled by route
// pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			s.metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		}
		s.logger.Debug().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Msg("request")
	})
}
