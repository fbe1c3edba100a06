package provider

import (
	"encoding/json"
	"sort"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/tidwall/gjson"
)

type chatMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
}

func buildChatRequest(req TurnRequest) chatRequest {
	body := chatRequest{
		Model:       req.Model,
		Stream:      true,
		Temperature: 0,
	}

	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: strPtr(req.SystemPrompt)})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleTool:
			body.Messages = append(body.Messages, chatMessage{
				Role:       "tool",
				Content:    strPtr(msg.Content),
				ToolCallID: msg.ToolCallID,
			})
		case RoleAssistant:
			out := chatMessage{Role: "assistant"}
			text := msg.Content
			if text == "" {
				text = blocksText(msg.Blocks)
			}
			if text != "" || len(msg.ToolCalls) == 0 {
				out.Content = strPtr(text)
			}
			for _, call := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, chatToolCall{
					ID:       call.ID,
					Type:     "function",
					Function: chatFunctionCall{Name: call.Name, Arguments: call.Arguments},
				})
			}
			body.Messages = append(body.Messages, out)
		default:
			body.Messages = append(body.Messages, chatMessage{Role: "user", Content: strPtr(msg.Content)})
		}
	}

	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = "auto"
	}

	return body
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

// chatAccumulator assembles one streamed chat completion.
type chatAccumulator struct {
	onDelta func(string)
	text    strings.Builder
	calls   map[int]*partialCall
	byID    map[string]int
	last    int
}

func newChatAccumulator(onDelta func(string)) *chatAccumulator {
	return &chatAccumulator{
		onDelta: onDelta,
		calls:   make(map[int]*partialCall),
		byID:    make(map[string]int),
		last:    -1,
	}
}

// handle consumes one data payload. It reports done on the terminator.
func (a *chatAccumulator) handle(data string) (bool, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return false, nil
	}
	if data == "[DONE]" {
		return true, nil
	}
	if !gjson.Valid(data) {
		return false, &StreamError{Message: "malformed stream chunk: " + snippet(data)}
	}
	if err := embeddedError(data); err != nil {
		return false, err
	}

	delta := gjson.Get(data, "choices.0.delta")
	if content := delta.Get("content"); content.Type == gjson.String && content.Str != "" {
		a.appendText(content.Str)
	}

	for pos, tc := range delta.Get("tool_calls").Array() {
		id := tc.Get("id").String()
		index := a.callIndex(tc.Get("index"), id, pos)
		call, ok := a.calls[index]
		if !ok {
			call = &partialCall{}
			a.calls[index] = call
		}
		if id != "" {
			call.id = id
			a.byID[id] = index
		}
		a.last = index
		if name := tc.Get("function.name").String(); name != "" {
			call.name = name
		}
		call.args.WriteString(tc.Get("function.arguments").String())
	}

	return false, nil
}

// callIndex picks the slot for a tool call fragment. Some compatible
// servers omit index; then a new id opens the next free slot and an
// id-less fragment continues the call it follows.
func (a *chatAccumulator) callIndex(idx gjson.Result, id string, pos int) int {
	if idx.Exists() {
		return int(idx.Int())
	}
	if id != "" {
		if index, ok := a.byID[id]; ok {
			return index
		}
		index := len(a.calls)
		for a.calls[index] != nil {
			index++
		}
		return index
	}
	if a.last >= 0 {
		return a.last
	}
	return pos
}

func (a *chatAccumulator) appendText(text string) {
	a.text.WriteString(text)
	if a.onDelta != nil {
		a.onDelta(text)
	}
}

func (a *chatAccumulator) result() TurnResult {
	indexes := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	res := TurnResult{Text: a.text.String()}
	for _, idx := range indexes {
		call := a.calls[idx]
		if call.name == "" {
			continue
		}
		args := call.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		res.ToolCalls = append(res.ToolCalls, ToolCall{
			ID:        callID(call.id),
			Name:      call.name,
			Arguments: args,
		})
	}
	return res
}

// decodeChatCompletion handles a non-streaming chat completion body.
func decodeChatCompletion(body []byte, onDelta func(string)) (TurnResult, error) {
	if !gjson.ValidBytes(body) {
		return TurnResult{}, &StreamError{Message: "malformed provider response: " + snippet(string(body))}
	}
	data := string(body)
	if err := embeddedError(data); err != nil {
		return TurnResult{}, err
	}

	msg := gjson.Get(data, "choices.0.message")
	res := TurnResult{Text: msg.Get("content").String()}
	if res.Text != "" && onDelta != nil {
		onDelta(res.Text)
	}
	for _, tc := range msg.Get("tool_calls").Array() {
		name := tc.Get("function.name").String()
		if name == "" {
			continue
		}
		args := tc.Get("function.arguments").String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		res.ToolCalls = append(res.ToolCalls, ToolCall{
			ID:        callID(tc.Get("id").String()),
			Name:      name,
			Arguments: args,
		})
	}
	return res, nil
}

// embeddedError extracts an error object or error-typed event from a
// payload.
func embeddedError(data string) error {
	errVal := gjson.Get(data, "error")
	hasError := errVal.Exists() && errVal.Type != gjson.Null
	if gjson.Get(data, "type").String() == "error" || hasError {
		msg := errVal.Get("message").String()
		if msg == "" && errVal.Type == gjson.String {
			msg = errVal.Str
		}
		if msg == "" {
			msg = "provider stream error"
		}
		return &StreamError{Message: msg}
	}
	return nil
}

func callID(id string) string {
	if id != "" {
		return id
	}
	generated, err := gonanoid.New()
	if err != nil {
		return "call_0"
	}
	return "call_" + generated
}

func blocksText(blocks []Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func strPtr(s string) *string {
	return &s
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
