package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// streamServer writes each chunk as a separate flush so the client sees
// partial reads.
func streamServer(t *testing.T, chunks []string, captured *[]byte, headers *http.Header) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if captured != nil {
			*captured = body
		}
		if headers != nil {
			*headers = r.Header.Clone()
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, chunk := range chunks {
			_, _ = io.WriteString(w, chunk)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
}

func newTestClient() *Client {
	return NewClient(Config{Logger: zerolog.Nop()})
}

func TestTurnOpenAIStreamsText(t *testing.T) {
	var body []byte
	var headers http.Header
	srv := streamServer(t, []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"con",
		"tent\":\" world\"}}]}\n\n",
		"data: [DONE]\n\n",
	}, &body, &headers)
	defer srv.Close()

	var deltas []string
	res, err := newTestClient().Turn(context.Background(), TurnRequest{
		Transport:    TransportOpenAIChat,
		URL:          srv.URL,
		APIKey:       "sk-test",
		Model:        "gpt-test",
		SystemPrompt: "be brief",
		Messages:     []Message{{Role: RoleUser, Content: "hi"}},
		Tools:        []ToolDefinition{{Name: "read", Parameters: map[string]interface{}{"type": "object"}}},
		OnTextDelta:  func(d string) { deltas = append(deltas, d) },
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello world", res.Text)
	assert.Equal(t, []string{"Hello", " world"}, deltas)
	assert.Empty(t, res.ToolCalls)

	assert.Equal(t, "Bearer sk-test", headers.Get("Authorization"))
	assert.Equal(t, "gpt-test", gjson.GetBytes(body, "model").String())
	assert.True(t, gjson.GetBytes(body, "stream").Bool())
	assert.Equal(t, "auto", gjson.GetBytes(body, "tool_choice").String())
	assert.Equal(t, float64(0), gjson.GetBytes(body, "temperature").Float())
	assert.Equal(t, "system", gjson.GetBytes(body, "messages.0.role").String())
	assert.Equal(t, "hi", gjson.GetBytes(body, "messages.1.content").String())
	assert.Equal(t, "function", gjson.GetBytes(body, "tools.0.type").String())
}

func TestTurnOpenAIAssemblesToolCallsByIndex(t *testing.T) {
	srv := streamServer(t, []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"bash","arguments":"{\"comm"}}]}}]}` + "\n\n",
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"read","arguments":"{\"path\":"}}]}}]}` + "\n\n",
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"arguments":"and\":\"ls\"}"}}]}}]}` + "\n\n",
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a.txt\"}"}}]}}]}` + "\n\n",
		"data: [DONE]\n\n",
	}, nil, nil)
	defer srv.Close()

	res, err := newTestClient().Turn(context.Background(), TurnRequest{
		Transport: TransportOpenAIChat,
		URL:       srv.URL,
		Model:     "m",
		Messages:  []Message{{Role: RoleUser, Content: "go"}},
	})

	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 2)

	assert.Equal(t, "read", res.ToolCalls[0].Name)
	assert.JSONEq(t, `{"path":"a.txt"}`, res.ToolCalls[0].Arguments)
	assert.Regexp(t, `^call_.+`, res.ToolCalls[0].ID)

	assert.Equal(t, "call_b", res.ToolCalls[1].ID)
	assert.Equal(t, "bash", res.ToolCalls[1].Name)
	assert.JSONEq(t, `{"command":"ls"}`, res.ToolCalls[1].Arguments)
}

func TestTurnOpenAIAssemblesToolCallsWithoutIndex(t *testing.T) {
	srv := streamServer(t, []string{
		`data: {"choices":[{"delta":{"tool_calls":[{"id":"call_a","function":{"name":"read","arguments":"{\"path\":"}}]}}]}` + "\n\n",
		`data: {"choices":[{"delta":{"tool_calls":[{"function":{"arguments":"\"a.txt\"}"}}]}}]}` + "\n\n",
		`data: {"choices":[{"delta":{"tool_calls":[{"id":"call_b","function":{"name":"bash","arguments":"{\"command\":\"ls\"}"}}]}}]}` + "\n\n",
		"data: [DONE]\n\n",
	}, nil, nil)
	defer srv.Close()

	res, err := newTestClient().Turn(context.Background(), TurnRequest{
		Transport: TransportOpenAIChat,
		URL:       srv.URL,
		Model:     "m",
		Messages:  []Message{{Role: RoleUser, Content: "go"}},
	})

	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 2)

	assert.Equal(t, "call_a", res.ToolCalls[0].ID)
	assert.Equal(t, "read", res.ToolCalls[0].Name)
	assert.JSONEq(t, `{"path":"a.txt"}`, res.ToolCalls[0].Arguments)

	assert.Equal(t, "call_b", res.ToolCalls[1].ID)
	assert.Equal(t, "bash", res.ToolCalls[1].Name)
	assert.JSONEq(t, `{"command":"ls"}`, res.ToolCalls[1].Arguments)
}

func TestTurnAnthropicStream(t *testing.T) {
	var body []byte
	var headers http.Header
	srv := streamServer(t, []string{
		"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{}}\n\n",
		"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Let me\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\" look\"}}\n\n",
		"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":1,\"content_block\":{\"type\":\"tool_use\",\"id\":\"toolu_1\",\"name\":\"read\",\"input\":{\"startLine\":1}}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"path\\\":\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\"AGENTS.md\\\"}\"}}\n\n",
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
	}, &body, &headers)
	defer srv.Close()

	var deltas []string
	res, err := newTestClient().Turn(context.Background(), TurnRequest{
		Transport:    TransportAnthropicMessages,
		URL:          srv.URL,
		APIKey:       "sk-ant-test",
		Model:        "claude-test",
		SystemPrompt: "sys",
		Messages:     []Message{{Role: RoleUser, Content: "read it"}},
		OnTextDelta:  func(d string) { deltas = append(deltas, d) },
	})

	require.NoError(t, err)
	assert.Equal(t, "Let me look", res.Text)
	assert.Equal(t, []string{"Let me", " look"}, deltas)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "toolu_1", res.ToolCalls[0].ID)
	assert.JSONEq(t, `{"path":"AGENTS.md","startLine":1}`, res.ToolCalls[0].Arguments)
	require.Len(t, res.AssistantBlocks, 2)
	assert.Equal(t, "text", res.AssistantBlocks[0].Type)
	assert.Equal(t, "tool_use", res.AssistantBlocks[1].Type)

	assert.Equal(t, "sk-ant-test", headers.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", headers.Get("anthropic-version"))
	assert.Equal(t, "sys", gjson.GetBytes(body, "system").String())
	assert.Equal(t, int64(4096), gjson.GetBytes(body, "max_tokens").Int())
	assert.Equal(t, "read it", gjson.GetBytes(body, "messages.0.content.0.text").String())
}

func TestTurnAnthropicMergesToolResults(t *testing.T) {
	var body []byte
	srv := streamServer(t, []string{"data: {\"type\":\"message_stop\"}\n\n"}, &body, nil)
	defer srv.Close()

	_, err := newTestClient().Turn(context.Background(), TurnRequest{
		Transport: TransportAnthropicMessages,
		URL:       srv.URL,
		Model:     "m",
		Messages: []Message{
			{Role: RoleUser, Content: "go"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{
				{ID: "a", Name: "read", Arguments: `{"path":"x"}`},
				{ID: "b", Name: "bash", Arguments: `{"command":"ls"}`},
			}},
			{Role: RoleTool, ToolCallID: "a", Content: `{"ok":true}`},
			{Role: RoleTool, ToolCallID: "b", Content: `{"ok":false}`, IsError: true},
		},
	})
	require.NoError(t, err)

	msgs := gjson.GetBytes(body, "messages").Array()
	require.Len(t, msgs, 3)
	assert.Equal(t, "tool_use", msgs[1].Get("content.0.type").String())
	assert.Equal(t, "x", msgs[1].Get("content.0.input.path").String())
	assert.Equal(t, "user", msgs[2].Get("role").String())
	assert.Len(t, msgs[2].Get("content").Array(), 2)
	assert.Equal(t, "b", msgs[2].Get("content.1.tool_use_id").String())
	assert.True(t, msgs[2].Get("content.1.is_error").Bool())
}

func TestTurnAnthropicEmptyAssistantTurn(t *testing.T) {
	var body []byte
	srv := streamServer(t, []string{"data: {\"type\":\"message_stop\"}\n\n"}, &body, nil)
	defer srv.Close()

	_, err := newTestClient().Turn(context.Background(), TurnRequest{
		Transport: TransportAnthropicMessages,
		URL:       srv.URL,
		Model:     "m",
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: ""},
			{Role: RoleUser, Content: "again"},
		},
	})
	require.NoError(t, err)

	assistant := gjson.GetBytes(body, "messages.1")
	assert.Equal(t, "assistant", assistant.Get("role").String())
	require.True(t, assistant.Get("content").IsArray())
	require.Len(t, assistant.Get("content").Array(), 1)
	assert.Equal(t, "text", assistant.Get("content.0.type").String())
	assert.NotEmpty(t, assistant.Get("content.0.text").String())
}

func TestTurnNonStreamingFallback(t *testing.T) {
	t.Run("chat completion", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"done","tool_calls":[{"id":"c1","function":{"name":"bash","arguments":"{\"command\":\"pwd\"}"}}]}}]}`)
		}))
		defer srv.Close()

		var deltas []string
		res, err := newTestClient().Turn(context.Background(), TurnRequest{
			URL:         srv.URL,
			Model:       "m",
			OnTextDelta: func(d string) { deltas = append(deltas, d) },
		})
		require.NoError(t, err)
		assert.Equal(t, "done", res.Text)
		assert.Equal(t, []string{"done"}, deltas)
		require.Len(t, res.ToolCalls, 1)
		assert.Equal(t, "c1", res.ToolCalls[0].ID)
	})

	t.Run("message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"hi"},{"type":"tool_use","id":"t1","name":"read","input":{"path":"a"}}]}`)
		}))
		defer srv.Close()

		res, err := newTestClient().Turn(context.Background(), TurnRequest{
			Transport: TransportAnthropicMessages,
			URL:       srv.URL,
			Model:     "m",
		})
		require.NoError(t, err)
		assert.Equal(t, "hi", res.Text)
		require.Len(t, res.ToolCalls, 1)
		assert.JSONEq(t, `{"path":"a"}`, res.ToolCalls[0].Arguments)
	})
}

func TestTurnErrors(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"bad key"}`)
		}))
		defer srv.Close()

		_, err := newTestClient().Turn(context.Background(), TurnRequest{URL: srv.URL, Model: "m"})
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
		assert.Equal(t, `provider request failed (401): {"error":"bad key"}`, err.Error())
	})

	t.Run("error event", func(t *testing.T) {
		srv := streamServer(t, []string{
			"data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n",
			"event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n",
		}, nil, nil)
		defer srv.Close()

		_, err := newTestClient().Turn(context.Background(), TurnRequest{URL: srv.URL, Model: "m"})
		var streamErr *StreamError
		require.ErrorAs(t, err, &streamErr)
		assert.Equal(t, "Overloaded", streamErr.Message)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		_, err := newTestClient().Turn(context.Background(), TurnRequest{
			URL:     srv.URL,
			Model:   "m",
			Timeout: 50 * time.Millisecond,
		})
		var timeoutErr *TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, CodeTimeout, timeoutErr.Code())
	})

	t.Run("caller cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newTestClient().Turn(ctx, TurnRequest{URL: "http://127.0.0.1:1", Model: "m"})
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("missing url", func(t *testing.T) {
		_, err := newTestClient().Turn(context.Background(), TurnRequest{Model: "m"})
		assert.Error(t, err)
	})
}

func TestRequestErrorSnippet(t *testing.T) {
	long := make([]byte, 800)
	for i := range long {
		long[i] = 'x'
	}
	err := &RequestError{StatusCode: 500, Body: string(long)}
	assert.Len(t, err.Error(), len("provider request failed (500): ")+500)
}
