package models

import "time"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentPDF      AttachmentKind = "pdf"
	AttachmentMarkdown AttachmentKind = "markdown"
)

// Attachment carries base64 data for image/pdf and raw text for markdown.
// Payload may be empty in historical messages loaded from the store.
type Attachment struct {
	Kind     AttachmentKind `json:"type" validate:"required,oneof=image pdf markdown"`
	Name     string         `json:"name" validate:"required,max=255"`
	MimeType string         `json:"mimeType"`
	Size     int64          `json:"size" validate:"gte=0"`
	Payload  string         `json:"data,omitempty"`
}

// AttachmentMeta is what gets persisted for an attachment.
type AttachmentMeta struct {
	Kind     AttachmentKind `json:"type"`
	Name     string         `json:"name"`
	MimeType string         `json:"mimeType"`
	Size     int64          `json:"size"`
}

func (a Attachment) Meta() AttachmentMeta {
	return AttachmentMeta{
		Kind:     a.Kind,
		Name:     a.Name,
		MimeType: a.MimeType,
		Size:     a.Size,
	}
}

type ChatMessage struct {
	Role        string       `json:"role" validate:"required,oneof=system user assistant"`
	Content     string       `json:"content" validate:"required"`
	Attachments []Attachment `json:"attachments,omitempty" validate:"dive"`
}

type ChatRequest struct {
	Model          string        `json:"model" validate:"required"`
	Messages       []ChatMessage `json:"messages" validate:"required,min=1,dive"`
	ConversationID *string       `json:"conversationId" validate:"omitempty,uuid"`
	Temperature    *float64      `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP           *float64      `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// FirstUserMessage returns the earliest user message, if any.
func (r ChatRequest) FirstUserMessage() (ChatMessage, bool) {
	for _, m := range r.Messages {
		if m.Role == RoleUser {
			return m, true
		}
	}
	return ChatMessage{}, false
}

// LastUserMessage returns the message being answered in this turn.
func (r ChatRequest) LastUserMessage() (ChatMessage, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i], true
		}
	}
	return ChatMessage{}, false
}

type RoutingEntry struct {
	ModelID           string `db:"model_id" json:"model_id"`
	UseAggregator     bool   `db:"use_aggregator" json:"use_aggregator"`
	AggregatorModelID string `db:"aggregator_model_id" json:"aggregator_model_id"`
}

type ProviderKind string

const (
	ProviderOpenAI     ProviderKind = "openai"
	ProviderGemini     ProviderKind = "gemini"
	ProviderDeepSeek   ProviderKind = "deepseek"
	ProviderAggregator ProviderKind = "openrouter"
)

// Usage is the provider-reported token usage of one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

type UsageLog struct {
	UserID           int64     `db:"user_id"`
	Model            string    `db:"model"`
	PromptTokens     int       `db:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens"`
	TotalTokens      int       `db:"total_tokens"`
	Status           string    `db:"status"`
	Cost             *float64  `db:"cost"`
	CreatedAt        time.Time `db:"created_at"`
}
