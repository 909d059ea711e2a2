package translator

import (
	"encoding/json"
	"fmt"
	"llmproxy/internal/attachments"
	"llmproxy/internal/models"
	"llmproxy/internal/routing"
	"strings"
)

// Aggregator model ids in this namespace only accept content blocks.
const blocksNamespace = "anthropic/"

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type geminiRequest struct {
	Contents         []geminiContent   `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string             `json:"role"`
	Parts []attachments.Part `json:"parts"`
}

type generationConfig struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"topP,omitempty"`
}

func SchemaFor(route routing.Route) attachments.Schema {
	switch route.Kind {
	case models.ProviderAggregator:
		if strings.HasPrefix(route.WireModelID, blocksNamespace) {
			return attachments.SchemaBlocks
		}
		return attachments.SchemaParts
	case models.ProviderGemini:
		return attachments.SchemaGemini
	}
	return attachments.SchemaParts
}

// Build renders the streamed-completion body for the resolved route.
// Attachments without payload are only tolerated in earlier turns.
func Build(req models.ChatRequest, route routing.Route) ([]byte, error) {
	if route.Credential == "" {
		return nil, fmt.Errorf("%w: нет ключа для модели %s", models.ErrConfiguration, route.ModelID)
	}
	req.Messages = attachments.PruneHistory(req.Messages)

	schema := SchemaFor(route)
	if schema == attachments.SchemaGemini {
		return buildGemini(req)
	}
	return buildChat(req, route.WireModelID, schema)
}

func buildChat(req models.ChatRequest, wireModel string, schema attachments.Schema) ([]byte, error) {
	body := chatRequest{
		Model:       wireModel,
		Messages:    make([]chatMessage, 0, len(req.Messages)),
		Stream:      true,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}

	for _, msg := range req.Messages {
		content, err := attachments.EncodeContent(msg, schema)
		if err != nil {
			return nil, fmt.Errorf("ошибка при подготовке сообщения: %w", err)
		}
		body.Messages = append(body.Messages, chatMessage{Role: msg.Role, Content: content})
	}

	return json.Marshal(body)
}

// buildGemini drops system messages; Gemini only gets user and model turns.
func buildGemini(req models.ChatRequest) ([]byte, error) {
	body := geminiRequest{Contents: make([]geminiContent, 0, len(req.Messages))}

	for _, msg := range req.Messages {
		var role string
		switch msg.Role {
		case models.RoleUser:
			role = "user"
		case models.RoleAssistant:
			role = "model"
		default:
			continue
		}

		parts, err := attachments.EncodeGeminiParts(msg)
		if err != nil {
			return nil, fmt.Errorf("ошибка при подготовке сообщения: %w", err)
		}
		body.Contents = append(body.Contents, geminiContent{Role: role, Parts: parts})
	}

	if req.Temperature != nil || req.TopP != nil {
		body.GenerationConfig = &generationConfig{Temperature: req.Temperature, TopP: req.TopP}
	}

	return json.Marshal(body)
}
