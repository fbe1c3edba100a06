package provider

import (
	"net/url"
	"strings"
)

// Transport is the wire protocol used to talk to a provider.
type Transport string

const (
	TransportOpenAIChat        Transport = "openai-chat"
	TransportAnthropicMessages Transport = "anthropic-messages"
)

const (
	anthropicHost           = "api.anthropic.com"
	defaultAnthropicMessage = "https://api.anthropic.com/v1/messages"
)

// ResolveTransport picks anthropic-messages when the provider is anthropic or
// the base URL points at an Anthropic messages endpoint, and openai-chat
// otherwise.
func ResolveTransport(providerName, baseURL string) Transport {
	if strings.EqualFold(strings.TrimSpace(providerName), "anthropic") {
		return TransportAnthropicMessages
	}

	base := strings.TrimSpace(baseURL)
	if base == "" {
		return TransportOpenAIChat
	}
	if u, err := url.Parse(base); err == nil {
		if strings.EqualFold(u.Hostname(), anthropicHost) {
			return TransportAnthropicMessages
		}
		if strings.HasSuffix(strings.TrimRight(u.Path, "/"), "/messages") {
			return TransportAnthropicMessages
		}
	}
	return TransportOpenAIChat
}

// ResolveCompletionURL normalizes a base URL to its chat completions
// endpoint. Bases already ending in the endpoint are returned as-is; bases
// without a /v1 or /api segment get /v1 appended.
func ResolveCompletionURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return ""
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	if hasVersionSegment(base) {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// ResolveAnthropicMessagesURL normalizes a base URL to its messages endpoint.
func ResolveAnthropicMessagesURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return defaultAnthropicMessage
	}
	if strings.HasSuffix(base, "/messages") {
		return base
	}
	if hasVersionSegment(base) {
		return base + "/messages"
	}
	return base + "/v1/messages"
}

// ResolveURL returns the endpoint for transport.
func ResolveURL(transport Transport, baseURL string) string {
	if transport == TransportAnthropicMessages {
		return ResolveAnthropicMessagesURL(baseURL)
	}
	return ResolveCompletionURL(baseURL)
}

func hasVersionSegment(base string) bool {
	u, err := url.Parse(base)
	path := base
	if err == nil {
		path = u.Path
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 {
		return false
	}
	last := segments[len(segments)-1]
	if last == "api" {
		return true
	}
	// v1, v1beta, v2 ...
	return len(last) >= 2 && last[0] == 'v' && last[1] >= '0' && last[1] <= '9'
}
