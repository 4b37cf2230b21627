package executor

import (
	"encoding/json"
	"fmt"
)

// statusReasons holds the canonical reason for the status codes the platform documents
var statusReasons = map[int]string{
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	429: "Too Many Requests",
	500: "Internal Server Error",
}

const reasonInvalidJSON = "Invalid JSON response"

// StatusError describes why a response was classified as a failure
type StatusError struct {
	Op         string
	StatusCode int
	Reason     string
}

func (e *StatusError) Error() string {
	if e.Reason == reasonInvalidJSON {
		return fmt.Sprintf("%s in %s", reasonInvalidJSON, e.Op)
	}
	return fmt.Sprintf("%s failed: %s (%d)", e.Op, e.Reason, e.StatusCode)
}

// StatusReason returns the canonical reason for a status code, or "Unknown Error"
func StatusReason(status int) string {
	if reason, ok := statusReasons[status]; ok {
		return reason
	}
	return "Unknown Error"
}

// Classify maps a response to either its decoded JSON body or a failure.
// Any 2xx status with a valid JSON body succeeds; everything else yields a
// *StatusError naming the operation and the status code.
func Classify(status int, body []byte, op string) (any, error) {
	if IsSuccessStatus(status) {
		var data any
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, &StatusError{Op: op, StatusCode: status, Reason: reasonInvalidJSON}
		}
		return data, nil
	}

	return nil, &StatusError{Op: op, StatusCode: status, Reason: StatusReason(status)}
}
