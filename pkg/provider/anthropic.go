package provider

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 4096
	blockTypeText    = "text"
	blockTypeToolUse = "tool_use"
	blockTypeToolRes = "tool_result"
	eventMessageStop = "message_stop"
	eventBlockStart  = "content_block_start"
	eventBlockDelta  = "content_block_delta"
	deltaText        = "text_delta"
	deltaInputJSON   = "input_json_delta"
)

type anthropicMessage struct {
	Role    string                   `json:"role"`
	Content []map[string]interface{} `json:"content"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	System    string             `json:"system,omitempty"`
	Stream    bool               `json:"stream"`
}

func buildAnthropicRequest(req TurnRequest) anthropicRequest {
	body := anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.SystemPrompt,
		Stream:    true,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleTool:
			block := map[string]interface{}{
				"type":        blockTypeToolRes,
				"tool_use_id": msg.ToolCallID,
				"content":     msg.Content,
			}
			if msg.IsError {
				block["is_error"] = true
			}
			// Consecutive tool results share one user message.
			if n := len(body.Messages); n > 0 && body.Messages[n-1].Role == "user" && isToolResultMessage(body.Messages[n-1]) {
				body.Messages[n-1].Content = append(body.Messages[n-1].Content, block)
				continue
			}
			body.Messages = append(body.Messages, anthropicMessage{Role: "user", Content: []map[string]interface{}{block}})
		case RoleAssistant:
			body.Messages = append(body.Messages, anthropicMessage{Role: "assistant", Content: assistantContent(msg)})
		default:
			body.Messages = append(body.Messages, anthropicMessage{
				Role:    "user",
				Content: []map[string]interface{}{{"type": blockTypeText, "text": msg.Content}},
			})
		}
	}

	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	return body
}

func isToolResultMessage(msg anthropicMessage) bool {
	for _, block := range msg.Content {
		if block["type"] != blockTypeToolRes {
			return false
		}
	}
	return len(msg.Content) > 0
}

// emptyAssistantText stands in for an assistant turn that produced no
// content; the messages protocol rejects empty or null content.
const emptyAssistantText = "(no output)"

func assistantContent(msg Message) []map[string]interface{} {
	content := blocksContent(msg)
	if len(content) == 0 {
		content = []map[string]interface{}{{"type": blockTypeText, "text": emptyAssistantText}}
	}
	return content
}

func blocksContent(msg Message) []map[string]interface{} {
	var content []map[string]interface{}

	if len(msg.Blocks) > 0 {
		for _, b := range msg.Blocks {
			switch b.Type {
			case blockTypeText:
				if b.Text != "" {
					content = append(content, map[string]interface{}{"type": blockTypeText, "text": b.Text})
				}
			case blockTypeToolUse:
				content = append(content, toolUseBlock(b.ID, b.Name, string(b.Input)))
			}
		}
		return content
	}

	if msg.Content != "" {
		content = append(content, map[string]interface{}{"type": blockTypeText, "text": msg.Content})
	}
	for _, call := range msg.ToolCalls {
		content = append(content, toolUseBlock(call.ID, call.Name, call.Arguments))
	}
	return content
}

func toolUseBlock(id, name, arguments string) map[string]interface{} {
	return map[string]interface{}{
		"type":  blockTypeToolUse,
		"id":    id,
		"name":  name,
		"input": inputObject(arguments),
	}
}

// inputObject decodes tool arguments into the JSON object the messages
// protocol requires; anything else becomes an empty object.
func inputObject(arguments string) map[string]interface{} {
	out := map[string]interface{}{}
	if strings.TrimSpace(arguments) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(arguments), &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

type partialBlock struct {
	kind    string
	text    strings.Builder
	id      string
	name    string
	inline  string
	partial strings.Builder
}

// messagesAccumulator assembles one streamed message.
type messagesAccumulator struct {
	onDelta func(string)
	text    strings.Builder
	blocks  map[int]*partialBlock
}

func newMessagesAccumulator(onDelta func(string)) *messagesAccumulator {
	return &messagesAccumulator{
		onDelta: onDelta,
		blocks:  make(map[int]*partialBlock),
	}
}

func (a *messagesAccumulator) block(index int) *partialBlock {
	b, ok := a.blocks[index]
	if !ok {
		b = &partialBlock{kind: blockTypeText}
		a.blocks[index] = b
	}
	return b
}

// handle consumes one event. It reports done on message_stop.
func (a *messagesAccumulator) handle(ev Event) (bool, error) {
	data := strings.TrimSpace(ev.Data)
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

	kind := gjson.Get(data, "type").String()
	if kind == "" {
		kind = ev.Name
	}

	switch kind {
	case eventMessageStop:
		return true, nil
	case eventBlockStart:
		index := int(gjson.Get(data, "index").Int())
		cb := gjson.Get(data, "content_block")
		b := a.block(index)
		b.kind = cb.Get("type").String()
		if b.kind == blockTypeToolUse {
			b.id = cb.Get("id").String()
			b.name = cb.Get("name").String()
			if input := cb.Get("input"); input.IsObject() {
				b.inline = input.Raw
			}
		} else if text := cb.Get("text").String(); text != "" {
			b.text.WriteString(text)
			a.appendText(text)
		}
	case eventBlockDelta:
		index := int(gjson.Get(data, "index").Int())
		delta := gjson.Get(data, "delta")
		b := a.block(index)
		switch delta.Get("type").String() {
		case deltaText:
			text := delta.Get("text").String()
			b.text.WriteString(text)
			a.appendText(text)
		case deltaInputJSON:
			b.partial.WriteString(delta.Get("partial_json").String())
		}
	}

	return false, nil
}

func (a *messagesAccumulator) appendText(text string) {
	if text == "" {
		return
	}
	a.text.WriteString(text)
	if a.onDelta != nil {
		a.onDelta(text)
	}
}

func (a *messagesAccumulator) result() TurnResult {
	indexes := make([]int, 0, len(a.blocks))
	for idx := range a.blocks {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	res := TurnResult{Text: a.text.String()}
	for _, idx := range indexes {
		b := a.blocks[idx]
		switch b.kind {
		case blockTypeToolUse:
			args := mergeInput(b.inline, b.partial.String())
			call := ToolCall{ID: callID(b.id), Name: b.name, Arguments: args}
			res.ToolCalls = append(res.ToolCalls, call)
			res.AssistantBlocks = append(res.AssistantBlocks, Block{
				Type:  blockTypeToolUse,
				ID:    call.ID,
				Name:  call.Name,
				Input: json.RawMessage(mustJSON(inputObject(args))),
			})
		default:
			if text := b.text.String(); text != "" {
				res.AssistantBlocks = append(res.AssistantBlocks, Block{Type: blockTypeText, Text: text})
			}
		}
	}
	return res
}

// mergeInput overlays the streamed partial JSON on the inline input from
// the block start. Unparseable partial JSON is passed through so the tool
// reports it.
func mergeInput(inline, partial string) string {
	merged := map[string]interface{}{}
	if inline != "" {
		_ = json.Unmarshal([]byte(inline), &merged)
	}
	if strings.TrimSpace(partial) != "" {
		streamed := map[string]interface{}{}
		if err := json.Unmarshal([]byte(partial), &streamed); err != nil {
			return partial
		}
		for k, v := range streamed {
			merged[k] = v
		}
	}
	return mustJSON(merged)
}

// decodeMessage handles a non-streaming messages body.
func decodeMessage(body []byte, onDelta func(string)) (TurnResult, error) {
	if !gjson.ValidBytes(body) {
		return TurnResult{}, &StreamError{Message: "malformed provider response: " + snippet(string(body))}
	}
	data := string(body)
	if err := embeddedError(data); err != nil {
		return TurnResult{}, err
	}

	acc := newMessagesAccumulator(nil)
	for i, cb := range gjson.Get(data, "content").Array() {
		b := acc.block(i)
		b.kind = cb.Get("type").String()
		switch b.kind {
		case blockTypeToolUse:
			b.id = cb.Get("id").String()
			b.name = cb.Get("name").String()
			if input := cb.Get("input"); input.IsObject() {
				b.inline = input.Raw
			}
		case blockTypeText:
			text := cb.Get("text").String()
			b.text.WriteString(text)
			acc.text.WriteString(text)
		}
	}

	res := acc.result()
	if res.Text != "" && onDelta != nil {
		onDelta(res.Text)
	}
	return res, nil
}
