package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/studiowebux/difyload/internal/types"
)

// Recorder receives one sample per completed call
type Recorder interface {
	Record(sample types.Sample)
}

// RecorderFunc adapts a function to the Recorder interface
type RecorderFunc func(sample types.Sample)

// Record calls f(sample)
func (f RecorderFunc) Record(sample types.Sample) {
	f(sample)
}

// AuthScheme selects how the session credential is attached to requests
type AuthScheme int

const (
	AuthNone   AuthScheme = iota
	AuthBearer            // Authorization: Bearer <key>
	AuthAPIKey            // X-Api-Key: <key>
)

// APIKeyHeader is the header used by the code-execution sandbox
const APIKeyHeader = "X-Api-Key"

// ClientConfig configures a Client
type ClientConfig struct {
	BaseURL    string
	Session    *types.Session
	Auth       AuthScheme
	HTTPClient *http.Client // shared, pooled client; wrapped for bearer auth
	Recorder   Recorder
}

// Client issues named requests against one API surface on behalf of one
// virtual user and records a sample for each of them.
type Client struct {
	baseURL  string
	session  *types.Session
	auth     AuthScheme
	http     *http.Client
	recorder Recorder
}

// NewClient creates a client for one virtual user
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}

	session := cfg.Session
	if session == nil {
		session = types.NewSession("", "", nil)
	}

	if cfg.Auth == AuthBearer {
		httpClient = &http.Client{
			Timeout: httpClient.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{
					AccessToken: session.Credential(),
					TokenType:   "Bearer",
				}),
				Base: httpClient.Transport,
			},
		}
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = RecorderFunc(func(types.Sample) {})
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		session:  session,
		auth:     cfg.Auth,
		http:     httpClient,
		recorder: recorder,
	}
}

// Session returns the session the client acts for
func (c *Client) Session() *types.Session {
	return c.session
}

// RecordError records a scenario-level failure that is not tied to a response
func (c *Client) RecordError(name string, err error) {
	c.recorder.Record(types.Sample{
		Name:      name,
		Method:    types.MethodError,
		Failure:   err.Error(),
		Timestamp: time.Now(),
	})
}

// Request describes a call to the platform
type Request struct {
	Name   string // sample name, e.g. "/chat-messages/send"
	Method string
	Path   string
	Query  url.Values
	JSON   any   // encoded as application/json when set
	Form   *Form // encoded as multipart/form-data when set
	Stream bool  // leave the body open for incremental reading
}

// Form is a multipart body with at most one file part
type Form struct {
	Fields      map[string]string
	FileField   string
	FileName    string
	FilePath    string
	ContentType string
}

// Send performs the request. The returned error is reserved for requests that
// cannot be built or for a context that is already done; transport failures
// and error statuses are reported through the Call. The caller must Close the
// call, which records its sample.
//
// Cancelling ctx while the request is in flight does not abort it: a virtual
// user that is told to stop finishes its current call. The deadline of ctx
// still applies.
func (c *Client) Send(ctx context.Context, req Request) (*Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s body: %w", req.Name, err)
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	reqCtx, cancel := detach(ctx)
	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, target, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.session.Headers() {
		httpReq.Header.Set(key, value)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if c.auth == AuthAPIKey {
		httpReq.Header.Set(APIKeyHeader, c.session.Credential())
	}
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	call := &Call{
		recorder:    c.recorder,
		name:        req.Name,
		method:      req.Method,
		requestSize: int64(len(body)),
		start:       time.Now(),
		cancel:      cancel,
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		call.err = err
		return call, nil
	}

	call.StatusCode = resp.StatusCode
	call.header = resp.Header

	if req.Stream {
		call.stream = &countingReader{r: resp.Body}
		call.closer = resp.Body
		return call, nil
	}

	defer resp.Body.Close()
	call.body, err = io.ReadAll(resp.Body)
	if err != nil {
		call.err = fmt.Errorf("failed to read response body: %w", err)
	}
	return call, nil
}

// detach keeps the deadline of ctx but drops its cancellation
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	return detached, func() {}
}

func encodeBody(req Request) ([]byte, string, error) {
	switch {
	case req.Form != nil:
		return encodeForm(req.Form)
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	default:
		return nil, "", nil
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeForm(form *Form) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(form.Fields))
	for key := range form.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := writer.WriteField(key, form.Fields[key]); err != nil {
			return nil, "", err
		}
	}

	if form.FilePath != "" {
		file, err := os.Open(form.FilePath)
		if err != nil {
			return nil, "", err
		}
		defer file.Close()

		name := form.FileName
		if name == "" {
			name = filepath.Base(form.FilePath)
		}
		contentType := form.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(form.FileField), quoteEscaper.Replace(name)))
		header.Set("Content-Type", contentType)

		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, file); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

// Call is the in-flight or completed exchange of one request. Its outcome
// is success when there was a response with a status below 400, unless
// Handle, Success or Failure decided otherwise.
type Call struct {
	StatusCode int

	recorder    Recorder
	name        string
	method      string
	requestSize int64
	start       time.Time
	cancel      context.CancelFunc

	header http.Header
	body   []byte
	stream *countingReader
	closer io.Closer
	err    error

	decided bool
	failure string
	closed  bool
}

// Err returns the transport error, if the call got no usable response
func (c *Call) Err() error {
	return c.err
}

// Header returns the response headers
func (c *Call) Header() http.Header {
	if c.header == nil {
		return http.Header{}
	}
	return c.header
}

// Body returns the buffered response body. Streaming calls return nil.
func (c *Call) Body() []byte {
	return c.body
}

// Stream returns the response body for incremental reading
func (c *Call) Stream() io.Reader {
	if c.stream != nil {
		return c.stream
	}
	return bytes.NewReader(c.body)
}

// Success marks the call as successful
func (c *Call) Success() {
	c.decided = true
	c.failure = ""
}

// Failure marks the call as failed with the given message
func (c *Call) Failure(msg string) {
	c.decided = true
	c.failure = msg
}

// Handle classifies the response for the named operation and marks the
// outcome. It returns the decoded JSON body when the call succeeded.
func (c *Call) Handle(op string) (any, bool) {
	if c.err != nil {
		c.Failure(fmt.Sprintf("%s failed: %s", op, categorizeError(c.err)))
		return nil, false
	}

	data, err := Classify(c.StatusCode, c.body, op)
	if err != nil {
		c.Failure(err.Error())
		return nil, false
	}

	c.Success()
	return data, true
}

// Close releases the response and records the sample. It is safe to call
// more than once; only the first call records.
func (c *Call) Close() {
	if c.closed {
		return
	}
	c.closed = true

	responseSize := int64(len(c.body))
	var streamErr error
	if c.stream != nil {
		responseSize = c.stream.n
		streamErr = c.stream.err
		c.closer.Close()
	}
	c.cancel()

	failure := c.failure
	if !c.decided {
		switch {
		case c.err != nil:
			failure = categorizeError(c.err)
		case c.StatusCode >= 400:
			failure = fmt.Sprintf("%s failed: %s (%d)", c.name, StatusReason(c.StatusCode), c.StatusCode)
		case streamErr != nil:
			failure = categorizeError(streamErr)
		}
	}

	c.recorder.Record(types.Sample{
		Name:         c.name,
		Method:       c.method,
		StatusCode:   c.StatusCode,
		Duration:     time.Since(c.start),
		RequestSize:  c.requestSize,
		ResponseSize: responseSize,
		Failure:      failure,
		Transport:    c.err != nil && c.StatusCode == 0,
		Timestamp:    c.start,
	})
}

// countingReader counts the bytes read from a stream and keeps the first
// error that is not io.EOF
type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	if err != nil && err != io.EOF && cr.err == nil {
		cr.err = err
	}
	return n, err
}
