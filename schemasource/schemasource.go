// Package schemasource loads JSON Schemas for apimeta validators. Fetching is
// kept apart from validation: a Fetcher returns a compiled *apimeta.Schema that
// callers pass to apimeta.NewValidator.
package schemasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	j "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/reoring/apimeta"
)

// DefaultURL is the SmartAPI OpenAPI v3 schema.
const DefaultURL = "https://raw.githubusercontent.com/WebsmartAPI/smartAPI-editor/master/node_modules_changes/opanapi.json"

// maxSchemaBytes bounds the response body read from a remote source.
const maxSchemaBytes = 16 << 20

// Cache holds compiled schemas by location. The zero value is ready to use and
// may be shared by several Fetchers.
type Cache struct {
	mu      sync.RWMutex
	schemas map[string]*apimeta.Schema
}

// Get returns the cached schema for location.
func (c *Cache) Get(location string) (*apimeta.Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[location]
	return s, ok
}

// Put stores s under location.
func (c *Cache) Put(location string, s *apimeta.Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.schemas == nil {
		c.schemas = make(map[string]*apimeta.Schema)
	}
	c.schemas[location] = s
}

// Forget drops location so the next Load fetches it again.
func (c *Cache) Forget(location string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.schemas, location)
}

// Fetcher retrieves schema documents over HTTP(S) or from disk.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	retries int
	backoff time.Duration
	logger  zerolog.Logger
	cache   *Cache
	opts    []apimeta.SchemaOption
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

// WithTimeout bounds each attempt; 0 leaves only the caller's context.
func WithTimeout(d time.Duration) Option { return func(f *Fetcher) { f.timeout = d } }

// WithRetries retries transport failures and 5xx responses n more times.
func WithRetries(n int, backoff time.Duration) Option {
	return func(f *Fetcher) {
		f.retries = n
		f.backoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(f *Fetcher) { f.logger = l } }

// WithCache shares c between Fetchers. Without it each Fetcher has its own.
func WithCache(c *Cache) Option { return func(f *Fetcher) { f.cache = c } }

// WithSchemaOptions forwards options to apimeta.CompileSchema.
func WithSchemaOptions(opts ...apimeta.SchemaOption) Option {
	return func(f *Fetcher) { f.opts = append(f.opts, opts...) }
}

// New returns a Fetcher with a 30s timeout and no retries.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  http.DefaultClient,
		timeout: 30 * time.Second,
		backoff: 500 * time.Millisecond,
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(f)
	}
	if f.cache == nil {
		f.cache = &Cache{}
	}
	return f
}

// Load returns the compiled schema at location, fetching and compiling it on
// first use. Failures are *apimeta.SchemaFetchError and are not cached.
func (f *Fetcher) Load(ctx context.Context, location string) (*apimeta.Schema, error) {
	if s, ok := f.cache.Get(location); ok {
		return s, nil
	}
	data, err := f.Fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	s, err := apimeta.CompileSchema(location, data, f.opts...)
	if err != nil {
		return nil, err
	}
	f.cache.Put(location, s)
	f.logger.Info().Str("schema", location).Int("bytes", len(data)).Msg("schema loaded")
	return s, nil
}

// Fetch returns the raw schema document at location. http and https URLs are
// fetched with GET; file URLs and plain paths are read from disk. The body
// must be well-formed JSON.
func (f *Fetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		data, err = f.fetchHTTP(ctx, location)
	default:
		data, err = readFile(location)
	}
	if err != nil {
		return nil, err
	}
	if !j.Valid(data) {
		return nil, &apimeta.SchemaFetchError{URL: location, Stage: apimeta.StageParse, Err: errors.New("body is not valid JSON")}
	}
	return data, nil
}

func readFile(location string) ([]byte, error) {
	path := location
	if strings.HasPrefix(location, "file://") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, &apimeta.SchemaFetchError{URL: location, Stage: apimeta.StageFetch, Err: err}
		}
		path = u.Path
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &apimeta.SchemaFetchError{URL: location, Stage: apimeta.StageFetch, Err: err}
	}
	return data, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, location string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			f.logger.Warn().Err(lastErr).Str("schema", location).Int("attempt", attempt+1).Msg("retrying schema fetch")
			select {
			case <-ctx.Done():
				return nil, &apimeta.SchemaFetchError{URL: location, Stage: apimeta.StageFetch, Err: ctx.Err()}
			case <-time.After(f.backoff * time.Duration(attempt)):
			}
		}
		data, retry, err := f.get(ctx, location)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, lastErr
}

// get performs one attempt and reports whether a failure is worth retrying.
func (f *Fetcher) get(ctx context.Context, location string) ([]byte, bool, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, false, &apimeta.SchemaFetchError{URL: location, Stage: apimeta.StageFetch, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil || errors.Is(ctx.Err(), context.DeadlineExceeded), &apimeta.SchemaFetchError{URL: location, Stage: apimeta.StageFetch, Err: err}
	}
	defer resp.Body.Close()

	f.logger.Debug().
		Str("schema", location).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("schema fetched")

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode >= 500, &apimeta.SchemaFetchError{
			URL:        location,
			Stage:      apimeta.StageStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSchemaBytes+1))
	if err != nil {
		return nil, true, &apimeta.SchemaFetchError{URL: location, Stage: apimeta.StageFetch, Err: err}
	}
	if len(data) > maxSchemaBytes {
		return nil, false, &apimeta.SchemaFetchError{URL: location, Stage: apimeta.StageFetch, Err: errors.New("schema exceeds 16 MiB")}
	}
	return data, true, nil
}
