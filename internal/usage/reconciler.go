package usage

import (
	"context"
	"fmt"
	"llmproxy/internal/models"
	"llmproxy/internal/pricing"
	"llmproxy/internal/routing"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

const (
	maxTitleRunes = 50
	defaultTitle  = "Новый диалог"
	wordsPerToken = 0.75
	StatusSuccess = "success"
)

type Store interface {
	CreateConversation(ctx context.Context, userID int64, title string) (string, error)
	SaveMessage(ctx context.Context, conversationID string, userID int64, role, content string, model *string, attachments []models.AttachmentMeta) (string, error)
	InsertUsageLog(ctx context.Context, log models.UsageLog) error
}

type PriceLookup interface {
	Lookup(modelID string) (pricing.Entry, bool)
}

type CostSink interface {
	AddCost(actual float64)
}

// Turn is everything needed to settle one finished completion.
type Turn struct {
	UserID         int64
	ConversationID string
	Request        models.ChatRequest
	Route          routing.Route
	Content        string
	Usage          *models.Usage
}

type Result struct {
	ConversationID   string
	MessageID        string
	PromptTokens     int
	CompletionTokens int
	Cost             *float64
}

type Reconciler struct {
	store  Store
	prices PriceLookup
	costs  CostSink
}

func NewReconciler(store Store, prices PriceLookup, costs CostSink) *Reconciler {
	return &Reconciler{
		store:  store,
		prices: prices,
		costs:  costs,
	}
}

// Reconcile settles the turn's cost and persists it. Failures up to and
// including the assistant message are returned wrapped in ErrPersistence; a
// failed usage log write is only logged.
func (r *Reconciler) Reconcile(ctx context.Context, turn Turn) (Result, error) {
	log := logrus.WithFields(logrus.Fields{
		"user_id": turn.UserID,
		"model":   turn.Route.ModelID,
	})

	// The provider has billed the turn by now, whatever happens below.
	promptTokens, completionTokens := Tokens(turn.Usage, turn.Content)
	cost := r.cost(turn.Route.WireModelID, promptTokens, completionTokens)
	if cost != nil {
		r.costs.AddCost(*cost)
	}

	conversationID := turn.ConversationID
	if conversationID == "" {
		first, _ := turn.Request.FirstUserMessage()
		id, err := r.store.CreateConversation(ctx, turn.UserID, Title(first.Content))
		if err != nil {
			return Result{}, fmt.Errorf("%w: создание диалога: %v", models.ErrPersistence, err)
		}
		conversationID = id
	}

	if userMsg, ok := turn.Request.LastUserMessage(); ok {
		meta := make([]models.AttachmentMeta, 0, len(userMsg.Attachments))
		for _, att := range userMsg.Attachments {
			meta = append(meta, att.Meta())
		}
		if _, err := r.store.SaveMessage(ctx, conversationID, turn.UserID, models.RoleUser, userMsg.Content, nil, meta); err != nil {
			return Result{}, fmt.Errorf("%w: сообщение пользователя: %v", models.ErrPersistence, err)
		}
	}

	model := turn.Route.ModelID
	messageID, err := r.store.SaveMessage(ctx, conversationID, turn.UserID, models.RoleAssistant, turn.Content, &model, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: ответ ассистента: %v", models.ErrPersistence, err)
	}

	err = r.store.InsertUsageLog(ctx, models.UsageLog{
		UserID:           turn.UserID,
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		Status:           StatusSuccess,
		Cost:             cost,
	})
	if err != nil {
		log.Errorf("Не удалось записать статистику использования: %v", err)
	}

	log.WithFields(logrus.Fields{
		"conversation_id":   conversationID,
		"prompt_tokens":     promptTokens,
		"completion_tokens": completionTokens,
	}).Info("Ответ сохранён")

	return Result{
		ConversationID:   conversationID,
		MessageID:        messageID,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Cost:             cost,
	}, nil
}

func (r *Reconciler) cost(wireModel string, promptTokens, completionTokens int) *float64 {
	entry, ok := r.prices.Lookup(wireModel)
	if !ok {
		return nil
	}
	c := float64(promptTokens)*entry.PromptPrice + float64(completionTokens)*entry.CompletionPrice
	c = math.Round(c*1e6) / 1e6
	return &c
}

// Tokens prefers provider-reported usage. Without it completion tokens are
// estimated from the word count and prompt tokens stay zero.
func Tokens(reported *models.Usage, content string) (prompt, completion int) {
	if reported != nil && (reported.PromptTokens > 0 || reported.CompletionTokens > 0) {
		return reported.PromptTokens, reported.CompletionTokens
	}
	words := len(strings.Fields(content))
	return 0, int(math.Ceil(float64(words) / wordsPerToken))
}

func Title(firstMessage string) string {
	title := strings.TrimSpace(firstMessage)
	if title == "" {
		return defaultTitle
	}
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	return strings.TrimSpace(string([]rune(title)[:maxTitleRunes]))
}
