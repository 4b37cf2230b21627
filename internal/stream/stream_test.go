package stream

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_ChatStream(t *testing.T) {
	body := strings.Join([]string{
		`data: {"event":"message","conversation_id":"c1","message_id":"m1","answer":"It"}`,
		``,
		`data: {"event":"message","conversation_id":"c1","message_id":"m2","answer":" is"}`,
		``,
		`data: {"event":"message_end","conversation_id":"c9","message_id":"m9"}`,
		`data: {"event":"message","conversation_id":"c3","message_id":"m3"}`,
	}, "\n")

	got := Parse(strings.NewReader(body), ChatEvents)

	assert.Equal(t, Captured{First: "c1", Second: "m2", Terminated: true}, got)
}

func TestParse_SkipsMalformedLines(t *testing.T) {
	body := strings.Join([]string{
		`event: ping`,
		`data: {"event":"message","conversation_id":"c1"`,
		`: keep-alive`,
		`data: {"event":"message","conversation_id":"c2","message_id":"m2"}`,
		`data: [1,2,3]`,
		`data: {"event":"message_end"}`,
	}, "\n")

	got := Parse(strings.NewReader(body), ChatEvents)

	assert.Equal(t, "c2", got.First)
	assert.Equal(t, "m2", got.Second)
	assert.True(t, got.Terminated)
}

func TestParse_AgentMessage(t *testing.T) {
	body := `data: {"event":"agent_message","conversation_id":"c1","message_id":"m1"}` + "\n"

	got := Parse(strings.NewReader(body), ChatEvents)

	assert.Equal(t, Captured{First: "c1", Second: "m1"}, got)
}

func TestParse_NoTerminalEvent(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Captured
	}{
		{"empty", "", Captured{}},
		{"only keep-alives", "\n\nevent: ping\n\n", Captured{}},
		{"partial", `data: {"event":"message","conversation_id":"c1","message_id":"m1"}`, Captured{First: "c1", Second: "m1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(strings.NewReader(tt.body), ChatEvents))
		})
	}
}

func TestParse_LaterEventKeepsEarlierIDWhenMissing(t *testing.T) {
	body := strings.Join([]string{
		`data: {"event":"message","conversation_id":"c1","message_id":"m1"}`,
		`data: {"event":"message","message_id":"m2"}`,
	}, "\n")

	got := Parse(strings.NewReader(body), ChatEvents)

	assert.Equal(t, "c1", got.First)
	assert.Equal(t, "m2", got.Second)
}

func TestParse_WorkflowStream(t *testing.T) {
	body := strings.Join([]string{
		`data: {"event":"workflow_started","workflow_run_id":"r1","task_id":"t1"}`,
		`data: {"event":"node_started","workflow_run_id":"r1","task_id":"t1"}`,
		`data: {"event":"text_chunk","workflow_run_id":"rX","task_id":"tX"}`,
		`data: {"event":"workflow_finished","workflow_run_id":"r2","task_id":"t2"}`,
		`data: {"event":"node_started","workflow_run_id":"r3","task_id":"t3"}`,
	}, "\n")

	got := Parse(strings.NewReader(body), WorkflowEvents)

	assert.Equal(t, Captured{First: "r2", Second: "t2", Terminated: true}, got)
}

func TestParse_StopsReadingAtTerminal(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte(`data: {"event":"message","conversation_id":"c1","message_id":"m1"}` + "\n"))
		pw.Write([]byte(`data: {"event":"message_end"}` + "\n"))
		// the writer never closes; Parse must return without waiting for EOF
	}()
	defer pw.Close()

	got := Parse(pr, ChatEvents)

	assert.True(t, got.Terminated)
	assert.Equal(t, "m1", got.Second)
}

func TestParse_LongLine(t *testing.T) {
	answer := strings.Repeat("x", 200*1024)
	body := `data: {"event":"message","conversation_id":"c1","message_id":"m1","answer":"` + answer + `"}` + "\n" +
		`data: {"event":"message_end"}` + "\n"

	got := Parse(strings.NewReader(body), ChatEvents)

	assert.Equal(t, Captured{First: "c1", Second: "m1", Terminated: true}, got)
}

func TestParse_Stateless(t *testing.T) {
	first := `data: {"event":"message","conversation_id":"c1","message_id":"m1"}`
	assert.Equal(t, "c1", Parse(strings.NewReader(first), ChatEvents).First)
	assert.Equal(t, Captured{}, Parse(strings.NewReader(""), ChatEvents))
}
