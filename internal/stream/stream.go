// Package stream reads server-sent-event responses and captures the
// correlation ids they carry.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"slices"
)

const (
	dataPrefix = "data: "

	initialBufferSize = 64 * 1024
	// MaxLineSize is the longest event line the parser accepts
	MaxLineSize = 1024 * 1024
)

// EventSpec describes which events carry ids and which event ends the stream
type EventSpec struct {
	Capture         []string // events whose ids are captured
	Terminal        string   // event that ends the stream
	CaptureTerminal bool     // capture ids from the terminal event before stopping
	FirstKey        string
	SecondKey       string
}

// Captured holds the ids read from a stream
type Captured struct {
	First      string
	Second     string
	Terminated bool // the terminal event was seen
}

// ChatEvents captures conversation and message ids up to message_end
var ChatEvents = EventSpec{
	Capture:   []string{"message", "agent_message"},
	Terminal:  "message_end",
	FirstKey:  "conversation_id",
	SecondKey: "message_id",
}

// WorkflowEvents captures run and task ids up to and including workflow_finished
var WorkflowEvents = EventSpec{
	Capture:         []string{"workflow_started", "node_started", "node_finished", "workflow_finished"},
	Terminal:        "workflow_finished",
	CaptureTerminal: true,
	FirstKey:        "workflow_run_id",
	SecondKey:       "task_id",
}

// Parse consumes r line by line until the terminal event or the end of the
// stream. Lines that are not JSON objects are skipped. A read error ends the
// stream like EOF does; the caller sees it through the reader it passed in.
func Parse(r io.Reader, spec EventSpec) Captured {
	var captured Captured

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialBufferSize), MaxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		line = bytes.TrimPrefix(line, []byte(dataPrefix))

		var payload map[string]any
		if err := json.Unmarshal(line, &payload); err != nil {
			continue
		}

		event, _ := payload["event"].(string)
		terminal := event == spec.Terminal

		if (terminal && spec.CaptureTerminal) || (!terminal && slices.Contains(spec.Capture, event)) {
			if v, ok := stringField(payload, spec.FirstKey); ok {
				captured.First = v
			}
			if v, ok := stringField(payload, spec.SecondKey); ok {
				captured.Second = v
			}
		}

		if terminal {
			captured.Terminated = true
			return captured
		}
	}

	return captured
}

func stringField(payload map[string]any, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	v, ok := payload[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
