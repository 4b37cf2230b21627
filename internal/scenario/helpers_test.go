package scenario

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/studiowebux/difyload/internal/executor"
	"github.com/studiowebux/difyload/internal/poller"
	"github.com/studiowebux/difyload/internal/testfiles"
	"github.com/studiowebux/difyload/internal/types"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Header http.Header
	Body   map[string]any
	Form   map[string][]string
}

// fakeDify routes "METHOD /path" to handlers and records every request
type fakeDify struct {
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	requests []recordedRequest
	server   *httptest.Server
}

func newFakeDify(t *testing.T) *fakeDify {
	t.Helper()
	f := &fakeDify{handlers: make(map[string]http.HandlerFunc)}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDify) handle(route string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[route] = h
}

func (f *fakeDify) json(route string, status int, body string) {
	f.handle(route, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	})
}

func (f *fakeDify) serve(w http.ResponseWriter, r *http.Request) {
	rec := recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	}
	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		json.NewDecoder(r.Body).Decode(&rec.Body)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		if err := r.ParseMultipartForm(10 << 20); err == nil {
			rec.Form = r.MultipartForm.Value
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, rec)
	h, ok := f.handlers[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (f *fakeDify) all() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeDify) paths() []string {
	var paths []string
	for _, r := range f.all() {
		paths = append(paths, r.Method+" "+r.Path)
	}
	return paths
}

func (f *fakeDify) last(method, path string) (recordedRequest, bool) {
	reqs := f.all()
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Method == method && reqs[i].Path == path {
			return reqs[i], true
		}
	}
	return recordedRequest{}, false
}

type sampleSink struct {
	mu      sync.Mutex
	samples []types.Sample
}

func (s *sampleSink) Record(sample types.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
}

func (s *sampleSink) all() []types.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Sample(nil), s.samples...)
}

func (s *sampleSink) byName(name string) []types.Sample {
	var out []types.Sample
	for _, sample := range s.all() {
		if sample.Name == name {
			out = append(out, sample)
		}
	}
	return out
}

type testEnv struct {
	fake  *fakeDify
	sink  *sampleSink
	deps  Deps
	files string
}

func newTestEnv(t *testing.T, userCount int, auth executor.AuthScheme) *testEnv {
	t.Helper()
	fake := newFakeDify(t)
	sink := &sampleSink{}

	dir := t.TempDir()
	if _, err := testfiles.Generate(dir); err != nil {
		t.Fatalf("failed to generate fixtures: %v", err)
	}

	client := executor.NewClient(executor.ClientConfig{
		BaseURL:  fake.server.URL,
		Session:  types.NewSession("test_user_1", "app-key", nil),
		Auth:     auth,
		Recorder: sink,
	})

	return &testEnv{
		fake: fake,
		sink: sink,
		deps: Deps{
			Client: client,
			Env:    StaticEnvironment(userCount),
			Files:  testfiles.NewSet(dir),
			Budget: poller.Budget{Interval: time.Millisecond, MaxAttempts: 5, Timeout: time.Second},
		},
		files: dir,
	}
}
