package chatgpt

import (
	"context"
	"encoding/json"
	"llmproxy/internal/attachments"
	"llmproxy/internal/models"
	"llmproxy/internal/routing"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplete(t *testing.T) {
	var got map[string]any
	var auth, path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"Привет"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`))
	}))
	defer server.Close()

	route := routing.Route{
		ModelID:     "gpt-4o",
		WireModelID: "gpt-4o",
		Kind:        models.ProviderOpenAI,
		BaseURL:     server.URL,
		Credential:  "sk-test",
	}
	req := models.ChatRequest{
		Model: "gpt-4o",
		Messages: []models.ChatMessage{
			{Role: models.RoleUser, Content: "что на картинке?", Attachments: []models.Attachment{
				{Kind: models.AttachmentImage, Name: "a.png", MimeType: "image/png", Payload: "iVBORw0KGgo="},
				{Kind: models.AttachmentPDF, Name: "doc.pdf", Payload: "JVBERi0="},
			}},
		},
	}

	reply, err := NewService(server.Client()).Complete(context.Background(), route, req)
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "/chat/completions", path)
	assert.Equal(t, "Привет", reply.Content)
	assert.Equal(t, &models.Usage{PromptTokens: 12, CompletionTokens: 3}, reply.Usage)

	assert.Equal(t, "gpt-4o", got["model"])
	messages := got["messages"].([]any)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "text", content[0].(map[string]any)["type"])
	assert.Equal(t, "image_url", content[1].(map[string]any)["type"])
}

func TestComplete_RejectsGemini(t *testing.T) {
	route := routing.Route{ModelID: "gemini-2.0-flash", Kind: models.ProviderGemini, Credential: "k"}
	_, err := NewService(nil).Complete(context.Background(), route, models.ChatRequest{})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestComplete_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer server.Close()

	route := routing.Route{ModelID: "deepseek-chat", WireModelID: "deepseek-chat", Kind: models.ProviderDeepSeek, BaseURL: server.URL, Credential: "k"}
	req := models.ChatRequest{Model: "deepseek-chat", Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}}

	_, err := NewService(server.Client()).Complete(context.Background(), route, req)
	assert.ErrorIs(t, err, models.ErrStreamTransport)
}

func TestToOpenAIMessage_MarkdownInlined(t *testing.T) {
	msg, err := toOpenAIMessage(models.ChatMessage{
		Role:    models.RoleUser,
		Content: "summarize",
		Attachments: []models.Attachment{
			{Kind: models.AttachmentMarkdown, Name: "notes.md", Payload: "# hi"},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, msg.MultiContent)
	assert.Equal(t, "summarize\n\n--- File: notes.md ---\n# hi\n--- End of file ---", msg.Content)
}

func TestComplete_EmptyPayloadInCurrentTurn(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	route := routing.Route{ModelID: "gpt-4o", WireModelID: "gpt-4o", Kind: models.ProviderOpenAI, BaseURL: server.URL, Credential: "k"}
	req := models.ChatRequest{Model: "gpt-4o", Messages: []models.ChatMessage{
		{Role: models.RoleUser, Content: "summarize", Attachments: []models.Attachment{
			{Kind: models.AttachmentMarkdown, Name: "empty.md"},
		}},
	}}

	_, err := NewService(server.Client()).Complete(context.Background(), route, req)
	assert.ErrorIs(t, err, attachments.ErrMissingPayload)
	assert.Zero(t, calls)
}

func TestComplete_HistoryAttachmentWithoutPayloadSkipped(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c2","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	route := routing.Route{ModelID: "gpt-4o", WireModelID: "gpt-4o", Kind: models.ProviderOpenAI, BaseURL: server.URL, Credential: "k"}
	req := models.ChatRequest{Model: "gpt-4o", Messages: []models.ChatMessage{
		{Role: models.RoleUser, Content: "look", Attachments: []models.Attachment{
			{Kind: models.AttachmentMarkdown, Name: "old.md", Size: 10},
		}},
		{Role: models.RoleAssistant, Content: "seen"},
		{Role: models.RoleUser, Content: "again"},
	}}

	reply, err := NewService(server.Client()).Complete(context.Background(), route, req)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Content)
	assert.Nil(t, reply.Usage)

	messages := got["messages"].([]any)
	require.Len(t, messages, 3)
	assert.Equal(t, "look", messages[0].(map[string]any)["content"])
}
