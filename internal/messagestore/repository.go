package messagestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"llmproxy/internal/messagestore/models"
	domain "llmproxy/internal/models"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) CreateConversation(ctx context.Context, userID int64, title string) (string, error) {
	query := `
		INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
	`

	id := uuid.NewString()
	if _, err := r.db.ExecContext(ctx, query, id, userID, title); err != nil {
		return "", fmt.Errorf("не удалось создать диалог: %w", err)
	}
	return id, nil
}

func (r *Repository) SaveMessage(ctx context.Context, conversationID string, userID int64, role, content string, model *string, attachments []domain.AttachmentMeta) (string, error) {
	var attachmentsJSON *string
	if len(attachments) > 0 {
		encoded, err := json.Marshal(attachments)
		if err != nil {
			return "", fmt.Errorf("не удалось сериализовать вложения: %w", err)
		}
		s := string(encoded)
		attachmentsJSON = &s
	}

	query := `
		INSERT INTO messages (id, conversation_id, user_id, role, content, model, attachments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`

	id := uuid.NewString()
	if _, err := r.db.ExecContext(ctx, query, id, conversationID, userID, role, content, model, attachmentsJSON); err != nil {
		return "", fmt.Errorf("не удалось сохранить сообщение: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID); err != nil {
		logrus.Warnf("Не удалось обновить время диалога %s: %v", conversationID, err)
	}
	return id, nil
}

func (r *Repository) InsertUsageLog(ctx context.Context, log domain.UsageLog) error {
	query := `
		INSERT INTO usage_logs (user_id, model, prompt_tokens, completion_tokens, total_tokens, status, cost, created_at)
		VALUES (:user_id, :model, :prompt_tokens, :completion_tokens, :total_tokens, :status, :cost, NOW())
	`

	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("не удалось записать статистику использования: %w", err)
	}
	return nil
}

func (r *Repository) GetRoutingConfig(ctx context.Context) ([]domain.RoutingEntry, error) {
	query := `
		SELECT model_id, use_aggregator, COALESCE(aggregator_model_id, '') AS aggregator_model_id
		FROM model_routing
	`

	var entries []domain.RoutingEntry
	if err := r.db.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("не удалось получить таблицу маршрутизации: %w", err)
	}
	return entries, nil
}

func (r *Repository) GetUserDailyRequestCount(ctx context.Context, userID int64, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM usage_logs
		WHERE user_id = $1 AND created_at >= $2
	`

	var count int
	if err := r.db.GetContext(ctx, &count, query, userID, since); err != nil {
		return 0, fmt.Errorf("не удалось получить число запросов пользователя: %w", err)
	}
	return count, nil
}

// GetUserDailyLimit returns sql.ErrNoRows wrapped when the user has no
// personal limit.
func (r *Repository) GetUserDailyLimit(ctx context.Context, userID int64) (int, error) {
	query := `SELECT daily_limit FROM user_limits WHERE user_id = $1`

	var limit int
	if err := r.db.GetContext(ctx, &limit, query, userID); err != nil {
		return 0, fmt.Errorf("не удалось получить лимит пользователя: %w", err)
	}
	return limit, nil
}

func (r *Repository) GetConversationOwner(ctx context.Context, conversationID string) (int64, error) {
	var userID int64
	err := r.db.GetContext(ctx, &userID, `SELECT user_id FROM conversations WHERE id = $1`, conversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrConversationNotFound
		}
		return 0, fmt.Errorf("не удалось получить диалог: %w", err)
	}
	return userID, nil
}

func (r *Repository) GetMessageHistoryChronological(ctx context.Context, conversationID string) ([]models.MessageHistoryItem, error) {
	query := `
		SELECT id, conversation_id, user_id, role, content, model, attachments, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`

	var messages []models.Message
	if err := r.db.SelectContext(ctx, &messages, query, conversationID); err != nil {
		return nil, fmt.Errorf("не удалось получить хронологическую историю сообщений: %w", err)
	}

	history := make([]models.MessageHistoryItem, len(messages))
	for i, msg := range messages {
		item := models.MessageHistoryItem{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Model != nil {
			item.Model = *msg.Model
		}
		if len(msg.Attachments) > 0 {
			var meta []domain.AttachmentMeta
			if err := json.Unmarshal(msg.Attachments, &meta); err == nil {
				item.Attachments = meta
			}
		}
		history[i] = item
	}

	logrus.Infof("Получено %d элементов хронологической истории для диалога %s", len(history), conversationID)
	return history, nil
}
