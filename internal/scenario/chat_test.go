package scenario

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/difyload/internal/executor"
	"github.com/studiowebux/difyload/internal/types"
)

const streamingChatBody = `data: {"event":"message","conversation_id":"conv-s","message_id":"msg-1","answer":"It"}

data: {"event":"message","conversation_id":"conv-s","message_id":"msg-2","answer":" is noon"}

data: {"event":"message_end","conversation_id":"conv-s","message_id":"msg-end"}

`

func serveChat(env *testEnv) {
	env.fake.handle("POST /chat-messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		if r.Header.Get("Accept") == "text/event-stream" {
			io.WriteString(w, streamingChatBody)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"event":"message","conversation_id":"conv-b","message_id":"msg-b","answer":"It is noon"}`)
	})
	env.fake.json("GET /parameters", 200, `{"opening_statement":""}`)
	env.fake.json("GET /meta", 200, `{"tool_icons":{}}`)
	env.fake.json("GET /messages", 200, `{"data":[]}`)
	env.fake.json("GET /conversations", 200, `{"data":[]}`)
	env.fake.json("POST /messages/msg-b/feedbacks", 200, `{"result":"success"}`)
	env.fake.json("GET /messages/msg-b/suggested", 200, `{"result":"success","data":[]}`)
	env.fake.json("POST /messages/msg-2/feedbacks", 200, `{"result":"success"}`)
	env.fake.json("GET /messages/msg-2/suggested", 200, `{"result":"success","data":[]}`)
	env.fake.json("POST /conversations/conv-b/name", 200, `{"id":"conv-b"}`)
	env.fake.json("POST /conversations/conv-s/name", 200, `{"id":"conv-s"}`)
	env.fake.json("DELETE /conversations/conv-b", 200, `{"result":"success"}`)
	env.fake.json("DELETE /conversations/conv-s", 200, `{"result":"success"}`)
}

func TestChat_GuardedOperationsMakeNoRequest(t *testing.T) {
	env := newTestEnv(t, 1, executor.AuthBearer)
	chat := NewChat(env.deps)
	ctx := context.Background()

	for _, op := range []func(context.Context) error{
		chat.History, chat.Conversations, chat.SuggestedQuestions, chat.Feedback, chat.Rename, chat.Delete,
	} {
		require.NoError(t, op(ctx))
	}

	assert.Empty(t, env.fake.all())
	assert.Empty(t, env.sink.all())
}

func TestChat_BlockingMessageThenFeedback(t *testing.T) {
	env := newTestEnv(t, 1, executor.AuthBearer)
	serveChat(env)
	chat := NewChat(env.deps)
	ctx := context.Background()

	require.NoError(t, chat.SendBlocking(ctx))

	sent, ok := env.fake.last("POST", "/chat-messages")
	require.True(t, ok)
	assert.Equal(t, "blocking", sent.Body["response_mode"])
	assert.Equal(t, "What time is it now?", sent.Body["query"])
	assert.Equal(t, "test_user_1", sent.Body["user"])
	assert.Nil(t, sent.Body["conversation_id"])
	assert.Equal(t, "Bearer app-key", sent.Header.Get("Authorization"))

	assert.Equal(t, types.ConversationHandle{ConversationID: "conv-b", MessageID: "msg-b"}, chat.Conversation())

	require.NoError(t, chat.Feedback(ctx))

	feedback, ok := env.fake.last("POST", "/messages/msg-b/feedbacks")
	require.True(t, ok)
	assert.Equal(t, "like", feedback.Body["rating"])
	assert.Equal(t, "test_user_1", feedback.Body["user"])

	samples := env.sink.byName("/messages/feedback")
	require.Len(t, samples, 1)
	assert.False(t, samples[0].Failed())
}

func TestChat_StreamingCapturesIDs(t *testing.T) {
	env := newTestEnv(t, 1, executor.AuthBearer)
	serveChat(env)
	chat := NewChat(env.deps)

	require.NoError(t, chat.SendStreaming(context.Background()))

	assert.Equal(t, types.ConversationHandle{ConversationID: "conv-s", MessageID: "msg-2"}, chat.Conversation())
	samples := env.sink.byName("/chat-messages/send")
	require.Len(t, samples, 1)
	assert.False(t, samples[0].Failed())
	assert.Equal(t, int64(len(streamingChatBody)), samples[0].ResponseSize)
}

func TestChat_StreamingWithoutIDsEndsConversation(t *testing.T) {
	env := newTestEnv(t, 1, executor.AuthBearer)
	env.fake.handle("POST /chat-messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "text/event-stream" {
			w.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(w, "data: {\"event\":\"ping\"}\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"event":"message","conversation_id":"conv-b","message_id":"msg-b","answer":"It is noon"}`)
	})
	chat := NewChat(env.deps)
	ctx := context.Background()

	require.NoError(t, chat.SendBlocking(ctx))
	require.True(t, chat.Conversation().Active())

	require.NoError(t, chat.SendStreaming(ctx))

	assert.Equal(t, types.ConversationHandle{}, chat.Conversation())
	sent, ok := env.fake.last("POST", "/chat-messages")
	require.True(t, ok)
	assert.Equal(t, "conv-b", sent.Body["conversation_id"])
}

func TestChat_FollowUpMessageCarriesConversation(t *testing.T) {
	env := newTestEnv(t, 1, executor.AuthBearer)
	serveChat(env)
	chat := NewChat(env.deps)
	ctx := context.Background()

	require.NoError(t, chat.SendBlocking(ctx))
	require.NoError(t, chat.SendBlocking(ctx))

	sent, ok := env.fake.last("POST", "/chat-messages")
	require.True(t, ok)
	assert.Equal(t, "conv-b", sent.Body["conversation_id"])
}

func TestChat_FailedSendKeepsState(t *testing.T) {
	env := newTestEnv(t, 1, executor.AuthBearer)
	env.fake.json("POST /chat-messages", 429, `{"code":"too_many_requests"}`)
	chat := NewChat(env.deps)

	require.NoError(t, chat.SendBlocking(context.Background()))

	assert.False(t, chat.Conversation().Active())
	samples := env.sink.byName("/chat-messages/send")
	require.Len(t, samples, 1)
	assert.Equal(t, "/chat-messages/send failed: Too Many Requests (429)", samples[0].Failure)
}

func TestChat_PerformAll(t *testing.T) {
	tests := []struct {
		name      string
		userCount int
		wantPaths []string
		wantConv  bool
	}{
		{
			name:      "blocking without delete",
			userCount: 5,
			wantPaths: []string{
				"GET /parameters", "GET /meta", "POST /chat-messages", "GET /messages", "GET /conversations",
				"POST /messages/msg-b/feedbacks", "GET /messages/msg-b/suggested", "POST /conversations/conv-b/name",
			},
			wantConv: true,
		},
		{
			name:      "streaming with delete",
			userCount: 11,
			wantPaths: []string{
				"GET /parameters", "GET /meta", "POST /chat-messages", "GET /messages", "GET /conversations",
				"POST /messages/msg-2/feedbacks", "GET /messages/msg-2/suggested", "POST /conversations/conv-s/name",
				"DELETE /conversations/conv-s",
			},
			wantConv: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.userCount, executor.AuthBearer)
			serveChat(env)
			chat := NewChat(env.deps)

			require.NoError(t, chat.PerformAll(context.Background()))

			assert.Equal(t, tt.wantPaths, env.fake.paths())
			assert.Equal(t, tt.wantConv, chat.Conversation().Active())
			for _, s := range env.sink.all() {
				assert.False(t, s.Failed(), "%s: %s", s.Name, s.Failure)
			}
		})
	}
}

func TestChat_DeleteFailureKeepsConversation(t *testing.T) {
	env := newTestEnv(t, 1, executor.AuthBearer)
	serveChat(env)
	env.fake.json("DELETE /conversations/conv-b", 404, `{"code":"not_found"}`)
	chat := NewChat(env.deps)
	ctx := context.Background()

	require.NoError(t, chat.SendBlocking(ctx))
	require.NoError(t, chat.Delete(ctx))

	assert.True(t, chat.Conversation().Active())
}

func TestChatflowSandbox_PerformAll(t *testing.T) {
	tests := []struct {
		name      string
		userCount int
		wantMode  string
	}{
		{"streaming", 3, "streaming"},
		{"blocking every fifth user", 5, "blocking"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.userCount, executor.AuthBearer)
			serveChat(env)
			c := NewChatflowSandbox(env.deps)

			require.NoError(t, c.PerformAll(context.Background()))

			assert.Equal(t, []string{"POST /chat-messages"}, env.fake.paths())
			sent, _ := env.fake.last("POST", "/chat-messages")
			assert.Equal(t, tt.wantMode, sent.Body["response_mode"])
			assert.True(t, c.Conversation().Active())
			assert.Equal(t, "chatflow_sandbox", c.Name())
		})
	}
}

func TestChatflowSandbox_FailureRecordedUnderItsName(t *testing.T) {
	env := newTestEnv(t, 1, executor.AuthBearer)
	env.fake.handle("POST /chat-messages", func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})
	c := NewChatflowSandbox(env.deps)

	require.NoError(t, c.PerformAll(context.Background()))

	samples := env.sink.byName("/chat-messages/send")
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Failed())
	assert.Empty(t, env.sink.byName("chatflow_sandbox_tasks"))
}
