package chatgpt

import (
	"context"
	"errors"
	"fmt"
	"llmproxy/internal/attachments"
	"llmproxy/internal/models"
	"llmproxy/internal/routing"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// Service runs non-streamed completions against OpenAI-compatible routes.
type Service struct {
	httpClient *http.Client
}

type Reply struct {
	Content string
	Usage   *models.Usage
}

func NewService(httpClient *http.Client) *Service {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Service{
		httpClient: httpClient,
	}
}

func (s *Service) Complete(ctx context.Context, route routing.Route, req models.ChatRequest) (Reply, error) {
	if route.Kind == models.ProviderGemini {
		return Reply{}, fmt.Errorf("%w: синхронный режим недоступен для %s", models.ErrConfiguration, route.ModelID)
	}
	if route.Credential == "" {
		return Reply{}, fmt.Errorf("%w: нет ключа для модели %s", models.ErrConfiguration, route.ModelID)
	}

	cfg := openai.DefaultConfig(route.Credential)
	cfg.BaseURL = route.BaseURL
	cfg.HTTPClient = s.httpClient
	client := openai.NewClientWithConfig(cfg)

	history := attachments.PruneHistory(req.Messages)
	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, msg := range history {
		converted, err := toOpenAIMessage(msg)
		if err != nil {
			return Reply{}, fmt.Errorf("ошибка при подготовке сообщения: %w", err)
		}
		messages = append(messages, converted)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    route.WireModelID,
		Messages: messages,
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		chatReq.TopP = float32(*req.TopP)
	}

	resp, err := client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		logrus.Errorf("Ошибка при запросе к %s: %v", route.Kind, err)
		return Reply{}, fmt.Errorf("%w: %v", models.ErrStreamTransport, err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, fmt.Errorf("%w: %v", models.ErrStreamTransport, errors.New("нет ответа от провайдера"))
	}

	reply := Reply{Content: resp.Choices[0].Message.Content}
	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		reply.Usage = &models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}
	}
	return reply, nil
}

// toOpenAIMessage inlines markdown and keeps images as image_url parts. The
// client library has no file part, so PDFs are dropped after validation.
func toOpenAIMessage(msg models.ChatMessage) (openai.ChatCompletionMessage, error) {
	text := msg.Content
	var images []openai.ChatMessagePart

	for _, att := range msg.Attachments {
		part, err := attachments.Encode(att, attachments.SchemaParts)
		if err != nil {
			return openai.ChatCompletionMessage{}, err
		}
		switch p := part.(type) {
		case attachments.TextPart:
			text += "\n\n" + p.Text
		case attachments.ImageURLPart:
			images = append(images, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL.URL},
			})
		default:
			logrus.Warnf("Вложение %s (%s) не поддерживается в синхронном режиме", att.Name, att.Kind)
		}
	}

	if len(images) == 0 {
		return openai.ChatCompletionMessage{Role: msg.Role, Content: text}, nil
	}
	parts := append([]openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: text}}, images...)
	return openai.ChatCompletionMessage{Role: msg.Role, MultiContent: parts}, nil
}
