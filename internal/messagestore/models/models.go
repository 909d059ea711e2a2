package models

import (
	"time"
)

type Conversation struct {
	ID        string    `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type Message struct {
	ID             string    `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	Role           string    `db:"role" json:"role"`
	Content        string    `db:"content" json:"content"`
	Model          *string   `db:"model" json:"model,omitempty"`
	Attachments    []byte    `db:"attachments" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

type MessageHistoryItem struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	Model       string `json:"model,omitempty"`
	Attachments any    `json:"attachments,omitempty"`
}
