package chat

import (
	"context"
	"errors"
	"fmt"
	"llmproxy/internal/chatgpt"
	"llmproxy/internal/models"
	"llmproxy/internal/relay"
	"llmproxy/internal/routing"
	"llmproxy/internal/translator"
	"llmproxy/internal/usage"
	"time"

	"github.com/sirupsen/logrus"
)

const dailyWindow = 24 * time.Hour

type LimitStore interface {
	GetUserDailyRequestCount(ctx context.Context, userID int64, since time.Time) (int, error)
	GetUserDailyLimit(ctx context.Context, userID int64) (int, error)
	GetConversationOwner(ctx context.Context, conversationID string) (int64, error)
}

type Resolver interface {
	Resolve(modelID string) (routing.Route, error)
}

type Admitter interface {
	CanProceed(estimate float64) bool
}

type Streamer interface {
	Stream(ctx context.Context, route routing.Route, body []byte, conversationID string, finish relay.FinishFunc) <-chan models.Event
}

type Completer interface {
	Complete(ctx context.Context, route routing.Route, req models.ChatRequest) (chatgpt.Reply, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, turn usage.Turn) (usage.Result, error)
}

type Service struct {
	store      LimitStore
	router     Resolver
	governor   Admitter
	relay      Streamer
	completer  Completer
	reconciler Reconciler
	preflight  float64
	now        func() time.Time
}

func NewService(store LimitStore, router Resolver, governor Admitter, relay Streamer, completer Completer, reconciler Reconciler, preflightEstimate float64) *Service {
	return &Service{
		store:      store,
		router:     router,
		governor:   governor,
		relay:      relay,
		completer:  completer,
		reconciler: reconciler,
		preflight:  preflightEstimate,
		now:        time.Now,
	}
}

// Reply is the outcome of a synchronous completion.
type Reply struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Content        string `json:"content"`
	Model          string `json:"model"`
}

// Stream admits the request and starts relaying it. Errors returned here are
// raised before any upstream call; everything later arrives on the channel.
func (s *Service) Stream(ctx context.Context, userID int64, req models.ChatRequest) (<-chan models.Event, error) {
	route, conversationID, err := s.prepare(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	body, err := translator.Build(req, route)
	if err != nil {
		logConfigurationError(req.Model, err)
		return nil, err
	}

	finish := func(ctx context.Context, sess *relay.Session) (relay.Result, error) {
		res, err := s.reconciler.Reconcile(ctx, usage.Turn{
			UserID:         userID,
			ConversationID: sess.ConversationID,
			Request:        req,
			Route:          route,
			Content:        sess.Content(),
			Usage:          sess.Usage,
		})
		if err != nil {
			return relay.Result{}, err
		}
		return relay.Result{ConversationID: res.ConversationID, MessageID: res.MessageID}, nil
	}

	logrus.WithFields(logrus.Fields{
		"user_id":  userID,
		"model":    route.ModelID,
		"provider": route.Kind,
	}).Info("Запуск потоковой генерации")

	return s.relay.Stream(ctx, route, body, conversationID, finish), nil
}

func (s *Service) Complete(ctx context.Context, userID int64, req models.ChatRequest) (Reply, error) {
	route, conversationID, err := s.prepare(ctx, userID, req)
	if err != nil {
		return Reply{}, err
	}

	answer, err := s.completer.Complete(ctx, route, req)
	if err != nil {
		logConfigurationError(req.Model, err)
		return Reply{}, err
	}

	res, err := s.reconciler.Reconcile(context.WithoutCancel(ctx), usage.Turn{
		UserID:         userID,
		ConversationID: conversationID,
		Request:        req,
		Route:          route,
		Content:        answer.Content,
		Usage:          answer.Usage,
	})
	if err != nil {
		return Reply{}, err
	}

	return Reply{
		ConversationID: res.ConversationID,
		MessageID:      res.MessageID,
		Content:        answer.Content,
		Model:          route.ModelID,
	}, nil
}

func (s *Service) prepare(ctx context.Context, userID int64, req models.ChatRequest) (routing.Route, string, error) {
	if err := s.admit(ctx, userID); err != nil {
		return routing.Route{}, "", err
	}

	var conversationID string
	if req.ConversationID != nil && *req.ConversationID != "" {
		conversationID = *req.ConversationID
		owner, err := s.store.GetConversationOwner(ctx, conversationID)
		if err != nil {
			return routing.Route{}, "", err
		}
		if owner != userID {
			return routing.Route{}, "", models.ErrConversationNotFound
		}
	}

	route, err := s.router.Resolve(req.Model)
	if err != nil {
		logConfigurationError(req.Model, err)
		return routing.Route{}, "", err
	}
	return route, conversationID, nil
}

func (s *Service) admit(ctx context.Context, userID int64) error {
	limit, err := s.store.GetUserDailyLimit(ctx, userID)
	if err != nil {
		return fmt.Errorf("не удалось проверить лимит: %w", err)
	}
	count, err := s.store.GetUserDailyRequestCount(ctx, userID, s.now().Add(-dailyWindow))
	if err != nil {
		return fmt.Errorf("не удалось проверить лимит: %w", err)
	}
	if count >= limit {
		logrus.Warnf("Пользователь %d исчерпал дневной лимит (%d/%d)", userID, count, limit)
		return models.ErrDailyLimitExceeded
	}

	if !s.governor.CanProceed(s.preflight) {
		logrus.Warn("Часовой лимит расходов исчерпан, запрос отклонён")
		return models.ErrHourlyCostLimitExceeded
	}
	return nil
}

// logConfigurationError reports deployment problems, such as a model with no
// provider or no credential, next to the requested model id.
func logConfigurationError(model string, err error) {
	if errors.Is(err, models.ErrConfiguration) {
		logrus.WithField("model", model).Errorf("Ошибка конфигурации модели: %v", err)
	}
}
