package attachments

import (
	"llmproxy/internal/models"

	"github.com/sirupsen/logrus"
)

// PruneHistory drops metadata-only attachments from messages before the
// current turn. Stored history keeps attachment metadata without payloads,
// so those entries cannot be re-sent. The current turn is the last user
// message and is returned untouched. The input slice is not modified.
func PruneHistory(messages []models.ChatMessage) []models.ChatMessage {
	current := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			current = i
			break
		}
	}

	var out []models.ChatMessage
	for i, msg := range messages {
		if i == current || !hasEmptyPayload(msg) {
			continue
		}
		if out == nil {
			out = make([]models.ChatMessage, len(messages))
			copy(out, messages)
		}

		kept := make([]models.Attachment, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			if att.Payload == "" {
				logrus.WithField("message", i).Warnf("Вложение %s из истории пропущено: нет содержимого", att.Name)
				continue
			}
			kept = append(kept, att)
		}
		out[i].Attachments = kept
	}

	if out == nil {
		return messages
	}
	return out
}

func hasEmptyPayload(msg models.ChatMessage) bool {
	for _, att := range msg.Attachments {
		if att.Payload == "" {
			return true
		}
	}
	return false
}
