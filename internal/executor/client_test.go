package executor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/difyload/internal/types"
)

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

func newTestClient(t *testing.T, url string, auth AuthScheme, sink *sampleSink) *Client {
	t.Helper()
	httpClient, err := NewHTTPClient(TransportOptions{MaxConns: 2, RequestTimeout: 2 * time.Second})
	require.NoError(t, err)
	return NewClient(ClientConfig{
		BaseURL:    url,
		Session:    types.NewSession("test_user_1", "secret-key", map[string]string{"X-Trace": "on"}),
		Auth:       auth,
		HTTPClient: httpClient,
		Recorder:   sink,
	})
}

func TestClient_BearerAuthAndJSONBody(t *testing.T) {
	var gotAuth, gotTrace, gotType string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTrace = r.Header.Get("X-Trace")
		gotType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"result":"success"}`))
	}))
	defer server.Close()

	sink := &sampleSink{}
	client := newTestClient(t, server.URL, AuthBearer, sink)

	call, err := client.Send(context.Background(), Request{
		Name:   "/messages/feedback",
		Method: http.MethodPost,
		Path:   "/messages/m1/feedbacks",
		JSON:   map[string]any{"rating": "like", "user": client.Session().UserID()},
	})
	require.NoError(t, err)
	data, ok := call.Handle("send_message_feedback")
	call.Close()

	require.True(t, ok)
	assert.Equal(t, map[string]any{"result": "success"}, data)
	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "on", gotTrace)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "like", gotBody["rating"])
	assert.Equal(t, "test_user_1", gotBody["user"])

	samples := sink.all()
	require.Len(t, samples, 1)
	assert.Equal(t, "/messages/feedback", samples[0].Name)
	assert.Equal(t, http.MethodPost, samples[0].Method)
	assert.Equal(t, 200, samples[0].StatusCode)
	assert.False(t, samples[0].Failed())
	assert.Positive(t, samples[0].RequestSize)
}

func TestClient_APIKeyHeader(t *testing.T) {
	var gotKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(APIKeyHeader)
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, AuthAPIKey, &sampleSink{})
	call, err := client.Send(context.Background(), Request{Name: "/sandbox/run", Method: http.MethodPost, Path: "/sandbox/run"})
	require.NoError(t, err)
	call.Close()

	assert.Equal(t, "secret-key", gotKey)
	assert.Empty(t, gotAuth)
}

func TestClient_DefaultOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusNoContent)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	sink := &sampleSink{}
	client := newTestClient(t, server.URL, AuthNone, sink)

	for _, path := range []string{"/ok", "/missing"} {
		call, err := client.Send(context.Background(), Request{Name: path, Method: http.MethodDelete, Path: path})
		require.NoError(t, err)
		call.Close()
		call.Close() // second close must not record again
	}

	samples := sink.all()
	require.Len(t, samples, 2)
	assert.False(t, samples[0].Failed())
	assert.True(t, samples[1].Failed())
	assert.Equal(t, "/missing failed: Not Found (404)", samples[1].Failure)
}

func TestClient_ExplicitOutcomeOverridesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":1,"message":"boom"}`))
	}))
	defer server.Close()

	sink := &sampleSink{}
	client := newTestClient(t, server.URL, AuthNone, sink)
	call, err := client.Send(context.Background(), Request{Name: "run", Method: http.MethodPost, Path: "/"})
	require.NoError(t, err)
	call.Failure("Execution failed: boom")
	call.Close()

	require.Len(t, sink.all(), 1)
	assert.Equal(t, "Execution failed: boom", sink.all()[0].Failure)
}

func TestClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sink := &sampleSink{}
	client := newTestClient(t, url, AuthNone, sink)
	call, err := client.Send(context.Background(), Request{Name: "/health-check", Method: http.MethodGet, Path: "/"})
	require.NoError(t, err)
	require.Error(t, call.Err())

	_, ok := call.Handle("health_check")
	call.Close()

	assert.False(t, ok)
	samples := sink.all()
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Transport)
	assert.Equal(t, 0, samples[0].StatusCode)
	assert.Contains(t, samples[0].Failure, "health_check failed")
}

func TestClient_CancelledContextSendsNothing(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer server.Close()

	sink := &sampleSink{}
	client := newTestClient(t, server.URL, AuthNone, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	call, err := client.Send(ctx, Request{Name: "x", Method: http.MethodGet, Path: "/"})

	assert.Nil(t, call)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, hits.Load())
	assert.Empty(t, sink.all())
}

func TestClient_InFlightCallSurvivesCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	sink := &sampleSink{}
	client := newTestClient(t, server.URL, AuthNone, sink)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	call, err := client.Send(ctx, Request{Name: "slow", Method: http.MethodGet, Path: "/"})
	require.NoError(t, err)
	call.Close()

	require.Len(t, sink.all(), 1)
	assert.False(t, sink.all()[0].Failed())
}

func TestClient_Multipart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	var gotUser, gotType, gotFileName, gotFileType, gotContent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotUser = r.FormValue("user")
		gotType = r.FormValue("type")
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotFileName = header.Filename
		gotFileType = header.Header.Get("Content-Type")
		gotContent = string(data)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"file-1"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, AuthBearer, &sampleSink{})
	call, err := client.Send(context.Background(), Request{
		Name:   "/files/upload-document",
		Method: http.MethodPost,
		Path:   "/files/upload",
		Form: &Form{
			Fields:      map[string]string{"user": "u1", "type": "document"},
			FileField:   "file",
			FilePath:    path,
			ContentType: "text/plain",
		},
	})
	require.NoError(t, err)
	defer call.Close()

	assert.Equal(t, http.StatusCreated, call.StatusCode)
	assert.Equal(t, "u1", gotUser)
	assert.Equal(t, "document", gotType)
	assert.Equal(t, "sample.txt", gotFileName)
	assert.Equal(t, "text/plain", gotFileType)
	assert.Equal(t, "hello", gotContent)
}

func TestClient_MissingFormFile(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", AuthNone, &sampleSink{})
	_, err := client.Send(context.Background(), Request{
		Name:   "/audio-to-text",
		Method: http.MethodPost,
		Path:   "/audio-to-text",
		Form:   &Form{FileField: "file", FilePath: filepath.Join(t.TempDir(), "nope.mp3")},
	})
	assert.Error(t, err)
}

func TestClient_StreamCountsBytes(t *testing.T) {
	payload := "data: {\"event\":\"message\"}\n\ndata: {\"event\":\"message_end\"}\n\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(payload))
	}))
	defer server.Close()

	sink := &sampleSink{}
	client := newTestClient(t, server.URL, AuthNone, sink)
	call, err := client.Send(context.Background(), Request{Name: "/chat-messages/send", Method: http.MethodPost, Path: "/chat-messages", Stream: true})
	require.NoError(t, err)
	data, err := io.ReadAll(call.Stream())
	require.NoError(t, err)
	call.Close()

	assert.Equal(t, payload, string(data))
	require.Len(t, sink.all(), 1)
	assert.Equal(t, int64(len(payload)), sink.all()[0].ResponseSize)
}

func TestClient_RecordError(t *testing.T) {
	sink := &sampleSink{}
	client := newTestClient(t, "http://localhost", AuthNone, sink)
	client.RecordError("chat_tasks", assert.AnError)

	require.Len(t, sink.all(), 1)
	assert.Equal(t, types.MethodError, sink.all()[0].Method)
	assert.Equal(t, "chat_tasks", sink.all()[0].Name)
	assert.Equal(t, assert.AnError.Error(), sink.all()[0].Failure)
}

func TestClient_TimeoutBoundsOpenStream(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"event\":\"message\"}\n\n"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	httpClient, err := NewHTTPClient(TransportOptions{MaxConns: 1, RequestTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	client := NewClient(ClientConfig{
		BaseURL:    server.URL,
		Session:    types.NewSession("test_user_1", "", nil),
		HTTPClient: httpClient,
		Recorder:   &sampleSink{},
	})

	call, err := client.Send(context.Background(), Request{Name: "/chat-messages/send", Method: http.MethodPost, Path: "/chat-messages", Stream: true})
	require.NoError(t, err)
	defer call.Close()

	start := time.Now()
	_, err = io.ReadAll(call.Stream())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
