package messagestore

import (
	"context"
	"database/sql"
	"errors"
	"llmproxy/internal/messagestore/models"
	domain "llmproxy/internal/models"
	"time"

	"github.com/sirupsen/logrus"
)

type Service struct {
	repo         *Repository
	defaultLimit int
}

func NewService(repo *Repository, defaultDailyLimit int) *Service {
	return &Service{
		repo:         repo,
		defaultLimit: defaultDailyLimit,
	}
}

func (s *Service) CreateConversation(ctx context.Context, userID int64, title string) (string, error) {
	logrus.Debugf("Создание диалога пользователя %d: %s", userID, title)
	return s.repo.CreateConversation(ctx, userID, title)
}

func (s *Service) SaveMessage(ctx context.Context, conversationID string, userID int64, role, content string, model *string, attachments []domain.AttachmentMeta) (string, error) {
	logrus.Debugf("Сохранение сообщения %s в диалог %s", role, conversationID)
	return s.repo.SaveMessage(ctx, conversationID, userID, role, content, model, attachments)
}

func (s *Service) InsertUsageLog(ctx context.Context, log domain.UsageLog) error {
	return s.repo.InsertUsageLog(ctx, log)
}

func (s *Service) GetRoutingConfig(ctx context.Context) ([]domain.RoutingEntry, error) {
	return s.repo.GetRoutingConfig(ctx)
}

func (s *Service) GetUserDailyRequestCount(ctx context.Context, userID int64, since time.Time) (int, error) {
	return s.repo.GetUserDailyRequestCount(ctx, userID, since)
}

// GetUserDailyLimit falls back to the configured default for users without a
// personal limit.
func (s *Service) GetUserDailyLimit(ctx context.Context, userID int64) (int, error) {
	limit, err := s.repo.GetUserDailyLimit(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return s.defaultLimit, nil
	}
	return limit, err
}

func (s *Service) GetConversationOwner(ctx context.Context, conversationID string) (int64, error) {
	return s.repo.GetConversationOwner(ctx, conversationID)
}

func (s *Service) GetMessageHistory(ctx context.Context, conversationID string) ([]models.MessageHistoryItem, error) {
	logrus.Debugf("Получение истории диалога %s", conversationID)
	return s.repo.GetMessageHistoryChronological(ctx, conversationID)
}
