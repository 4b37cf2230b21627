package scenario

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/studiowebux/difyload/internal/chain"
	"github.com/studiowebux/difyload/internal/executor"
	"github.com/studiowebux/difyload/internal/stream"
	"github.com/studiowebux/difyload/internal/types"
)

const chatQuery = "What time is it now?"

// Chat exercises the chat-message and conversation endpoints of a chatflow app
type Chat struct {
	base
	conv types.ConversationHandle
}

// NewChat creates the chat domain for one virtual user
func NewChat(deps Deps) *Chat {
	return &Chat{base: newBase("chat", deps)}
}

// Conversation returns the current conversation handle
func (c *Chat) Conversation() types.ConversationHandle {
	return c.conv
}

// Tasks returns the chat operation weights
func (c *Chat) Tasks() []Task {
	return []Task{
		{Name: "send_streaming", Weight: 3, Run: c.SendStreaming},
		{Name: "send_blocking", Weight: 1, Run: c.SendBlocking},
		{Name: "history", Weight: 2, Run: c.History},
		{Name: "suggested_questions", Weight: 2, Run: c.SuggestedQuestions},
		{Name: "feedback", Weight: 1, Run: c.Feedback},
		{Name: "rename", Weight: 1, Run: c.Rename},
		{Name: "delete", Weight: 1, Run: c.Delete},
	}
}

// PerformAll reads the app parameters, sends one message and works on the
// resulting conversation
func (c *Chat) PerformAll(ctx context.Context) error {
	return c.protect(ctx, c.performAll)
}

func (c *Chat) performAll(ctx context.Context) error {
	if err := c.Parameters(ctx); err != nil {
		return err
	}
	if err := c.Meta(ctx); err != nil {
		return err
	}

	send := c.SendStreaming
	if c.env.UserCount()%5 == 0 {
		send = c.SendBlocking
	}
	if err := send(ctx); err != nil {
		return err
	}

	if !c.conv.Active() {
		return nil
	}

	steps := []func(context.Context) error{c.History, c.Conversations}
	if c.conv.HasMessage() {
		steps = append(steps, c.Feedback, c.SuggestedQuestions)
	}
	steps = append(steps, c.Rename)
	if c.env.UserCount() > 10 {
		steps = append(steps, c.Delete)
	}
	return runSteps(ctx, steps...)
}

func (c *Chat) userQuery() url.Values {
	return url.Values{"user": {c.user()}}
}

// Parameters fetches the app input parameters
func (c *Chat) Parameters(ctx context.Context) error {
	_, _, err := c.sendOK(ctx, executor.Request{
		Name:   "/parameters",
		Method: http.MethodGet,
		Path:   "/parameters",
		Query:  c.userQuery(),
	}, "get_parameters")
	return err
}

// Meta fetches the app meta information
func (c *Chat) Meta(ctx context.Context) error {
	_, _, err := c.sendOK(ctx, executor.Request{
		Name:   "/meta",
		Method: http.MethodGet,
		Path:   "/meta",
		Query:  c.userQuery(),
	}, "get_meta")
	return err
}

// SendStreaming sends a message in streaming mode and captures the ids
// from the event stream
func (c *Chat) SendStreaming(ctx context.Context) error {
	return c.sendMessage(ctx, "streaming")
}

// SendBlocking sends a message in blocking mode
func (c *Chat) SendBlocking(ctx context.Context) error {
	return c.sendMessage(ctx, "blocking")
}

func (c *Chat) sendMessage(ctx context.Context, mode string) error {
	streaming := mode == "streaming"
	call, err := c.client.Send(ctx, executor.Request{
		Name:   "/chat-messages/send",
		Method: http.MethodPost,
		Path:   "/chat-messages",
		JSON: map[string]any{
			"inputs":          map[string]any{},
			"query":           chatQuery,
			"response_mode":   mode,
			"conversation_id": nullable(c.conv.ConversationID),
			"user":            c.user(),
			"files":           []any{},
		},
		Stream: streaming,
	})
	if err != nil {
		return err
	}
	defer call.Close()

	if call.StatusCode != http.StatusOK {
		return nil
	}

	if streaming {
		// a stream without ids ends the conversation
		captured := stream.Parse(call.Stream(), stream.ChatEvents)
		c.conv.ConversationID = captured.First
		c.conv.MessageID = captured.Second
		return nil
	}

	data, ok := call.Handle("send_chat_message")
	if !ok {
		return nil
	}
	if id := chain.Lookup(data, "conversation_id"); id != "" {
		c.conv.ConversationID = id
	}
	if id := chain.Lookup(data, "message_id"); id != "" {
		c.conv.MessageID = id
	}
	return nil
}

// History lists the messages of the current conversation
func (c *Chat) History(ctx context.Context) error {
	if !c.conv.Active() {
		return nil
	}
	_, err := c.send(ctx, executor.Request{
		Name:   "/messages/history",
		Method: http.MethodGet,
		Path:   "/messages",
		Query: url.Values{
			"user":            {c.user()},
			"conversation_id": {c.conv.ConversationID},
			"limit":           {"20"},
		},
	}, "get_chat_history")
	return err
}

// Conversations lists the conversations of the user
func (c *Chat) Conversations(ctx context.Context) error {
	if !c.conv.Active() {
		return nil
	}
	_, err := c.send(ctx, executor.Request{
		Name:   "/conversations/list",
		Method: http.MethodGet,
		Path:   "/conversations",
		Query: url.Values{
			"user":  {c.user()},
			"limit": {"20"},
		},
	}, "get_conversation_history")
	return err
}

// SuggestedQuestions fetches follow-up suggestions for the last message
func (c *Chat) SuggestedQuestions(ctx context.Context) error {
	if !c.conv.HasMessage() {
		return nil
	}
	_, err := c.send(ctx, executor.Request{
		Name:   "/messages/suggested",
		Method: http.MethodGet,
		Path:   "/messages/" + url.PathEscape(c.conv.MessageID) + "/suggested",
		Query:  c.userQuery(),
	}, "get_suggested_questions")
	return err
}

// Feedback rates the last message
func (c *Chat) Feedback(ctx context.Context) error {
	if !c.conv.HasMessage() {
		return nil
	}
	_, err := c.send(ctx, executor.Request{
		Name:   "/messages/feedback",
		Method: http.MethodPost,
		Path:   "/messages/" + url.PathEscape(c.conv.MessageID) + "/feedbacks",
		JSON: map[string]any{
			"rating": "like",
			"user":   c.user(),
		},
	}, "send_message_feedback")
	return err
}

// Rename gives the current conversation a new name
func (c *Chat) Rename(ctx context.Context) error {
	if !c.conv.Active() {
		return nil
	}
	_, err := c.send(ctx, executor.Request{
		Name:   "/conversations/rename",
		Method: http.MethodPost,
		Path:   "/conversations/" + url.PathEscape(c.conv.ConversationID) + "/name",
		JSON: map[string]any{
			"name":          fmt.Sprintf("Test Conversation %d", time.Now().UnixMilli()),
			"user":          c.user(),
			"auto_generate": false,
		},
	}, "rename_conversation")
	return err
}

// Delete removes the current conversation and forgets it on success
func (c *Chat) Delete(ctx context.Context) error {
	if !c.conv.Active() {
		return nil
	}
	call, err := c.client.Send(ctx, executor.Request{
		Name:   "/conversations/delete",
		Method: http.MethodDelete,
		Path:   "/conversations/" + url.PathEscape(c.conv.ConversationID),
		JSON:   map[string]any{"user": c.user()},
	})
	if err != nil {
		return err
	}
	defer call.Close()

	if call.StatusCode == http.StatusOK {
		c.conv.Clear()
	}
	return nil
}

// runSteps runs steps in order and stops at the first error
func runSteps(ctx context.Context, steps ...func(context.Context) error) error {
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ChatflowSandbox sends messages to a chatflow app whose flow runs code in
// the sandbox. Only the message call is exercised; the conversation is
// carried over between turns.
type ChatflowSandbox struct {
	*Chat
}

// NewChatflowSandbox creates the chatflow_sandbox domain for one virtual user
func NewChatflowSandbox(deps Deps) *ChatflowSandbox {
	return &ChatflowSandbox{Chat: &Chat{base: newBase("chatflow_sandbox", deps)}}
}

// Tasks returns the chatflow_sandbox operation weights
func (c *ChatflowSandbox) Tasks() []Task {
	return []Task{
		{Name: "send_streaming", Weight: 3, Run: c.SendStreaming},
		{Name: "send_blocking", Weight: 1, Run: c.SendBlocking},
	}
}

// PerformAll sends one message, blocking for every fifth user
func (c *ChatflowSandbox) PerformAll(ctx context.Context) error {
	send := c.SendStreaming
	if c.env.UserCount()%5 == 0 {
		send = c.SendBlocking
	}
	return c.protect(ctx, send)
}
