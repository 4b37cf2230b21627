package stresstest

import (
	"testing"
	"time"

	"github.com/studiowebux/difyload/internal/types"
)

func TestAggregator_Report(t *testing.T) {
	agg := newAggregator()

	withCode := func(s types.Sample, code int) types.Sample {
		s.StatusCode = code
		s.ResponseSize = 100
		return s
	}
	agg.add(withCode(sample("/parameters", "GET", 10, "", false), 200))
	agg.add(withCode(sample("/parameters", "GET", 30, "", false), 200))
	agg.add(withCode(sample("/chat-messages", "POST", 200, "", false), 200))
	agg.add(withCode(sample("/chat-messages", "POST", 400, "chat_message failed: Rate Limited (429)", false), 429))
	agg.add(withCode(sample("/chat-messages", "POST", 400, "chat_message failed: Rate Limited (429)", false), 429))
	agg.add(sample("chat_tasks", types.MethodError, 0, "boom", false))

	total, endpoints, failures := agg.report(2 * time.Second)

	if total.Name != "Aggregated" || total.Requests != 6 || total.Failures != 3 {
		t.Errorf("Unexpected total: %+v", total)
	}
	if total.FailureRate != 0.5 {
		t.Errorf("Expected failure rate 0.5, got: %v", total.FailureRate)
	}
	if total.RPS != 3 {
		t.Errorf("Expected 3 rps, got: %v", total.RPS)
	}
	if total.MaxMs != 400 || total.MinMs != 10 {
		t.Errorf("Expected latency range 10-400ms, got: %v-%v", total.MinMs, total.MaxMs)
	}

	if len(endpoints) != 3 {
		t.Fatalf("Expected 3 endpoints, got: %d", len(endpoints))
	}
	names := []string{endpoints[0].Name, endpoints[1].Name, endpoints[2].Name}
	if names[0] != "/chat-messages" || names[1] != "/parameters" || names[2] != "chat_tasks" {
		t.Errorf("Expected endpoints sorted by name, got: %v", names)
	}

	chat := endpoints[0]
	if chat.Requests != 3 || chat.Failures != 2 {
		t.Errorf("Unexpected chat endpoint: %+v", chat)
	}
	if chat.StatusCodes["429"] != 2 || chat.StatusCodes["200"] != 1 {
		t.Errorf("Unexpected status codes: %v", chat.StatusCodes)
	}
	if chat.BytesIn != 300 {
		t.Errorf("Expected 300 bytes in, got: %d", chat.BytesIn)
	}

	params := endpoints[1]
	if params.MeanMs != 20 || params.Failures != 0 {
		t.Errorf("Unexpected parameters endpoint: %+v", params)
	}

	errs := endpoints[2]
	if errs.Method != types.MethodError || errs.Requests != 1 || errs.MaxMs != 0 {
		t.Errorf("Scenario errors must have no latency: %+v", errs)
	}

	if len(failures) != 2 {
		t.Fatalf("Expected 2 failure rows, got: %d", len(failures))
	}
	if failures[0].Count != 2 || failures[0].Name != "/chat-messages" {
		t.Errorf("Expected the most frequent failure first, got: %+v", failures[0])
	}
	if failures[1].Message != "boom" {
		t.Errorf("Unexpected failure row: %+v", failures[1])
	}
}

func TestAggregator_Empty(t *testing.T) {
	total, endpoints, failures := newAggregator().report(time.Second)
	if total.Requests != 0 || len(endpoints) != 0 || len(failures) != 0 {
		t.Error("Expected empty report")
	}
}
