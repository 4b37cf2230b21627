package types

import (
	"maps"
	"time"
)

// Session is the identity of one virtual user. It is built when the user
// starts and never mutated afterwards.
type Session struct {
	userID     string
	credential string
	headers    map[string]string
}

// NewSession creates a session for a virtual user
func NewSession(userID, credential string, headers map[string]string) *Session {
	return &Session{
		userID:     userID,
		credential: credential,
		headers:    maps.Clone(headers),
	}
}

// UserID returns the synthetic user identifier sent as "user" in payloads
func (s *Session) UserID() string {
	return s.userID
}

// Credential returns the API key used for this session
func (s *Session) Credential() string {
	return s.credential
}

// Headers returns a copy of the default request headers
func (s *Session) Headers() map[string]string {
	return maps.Clone(s.headers)
}

// TLSConfig contains TLS settings for the API surfaces
type TLSConfig struct {
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
	CertFile           string `json:"certFile,omitempty" yaml:"certFile,omitempty"`
	KeyFile            string `json:"keyFile,omitempty" yaml:"keyFile,omitempty"`
	CAFile             string `json:"caFile,omitempty" yaml:"caFile,omitempty"`
}

// Sample is the recorded outcome of a single request
type Sample struct {
	Name         string        `json:"name"`
	Method       string        `json:"method"` // HTTP method, or "ERROR" for scenario failures
	StatusCode   int           `json:"statusCode"`
	Duration     time.Duration `json:"duration"`
	RequestSize  int64         `json:"requestSize"`
	ResponseSize int64         `json:"responseSize"`
	Failure      string        `json:"failure,omitempty"`
	Transport    bool          `json:"transport,omitempty"` // true when no response was received
	Timestamp    time.Time     `json:"timestamp"`
}

// Failed returns true if the sample was marked as a failure
func (s Sample) Failed() bool {
	return s.Failure != ""
}

// MethodError is the pseudo-method used for scenario-level failures
const MethodError = "ERROR"
