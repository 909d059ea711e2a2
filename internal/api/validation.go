package api

import (
	"errors"
	"fmt"
	domain "llmproxy/internal/models"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

type Limits struct {
	MaxMessageChars    int
	MaxMessages        int
	MaxAttachments     int
	MaxAttachmentBytes int64
	MaxRequestBytes    int64
}

// maxBodyBytes allows every message its full text and attachment quota with
// base64 overhead, capped by MaxRequestBytes when set.
func (l Limits) maxBodyBytes() int64 {
	perMessage := int64(l.MaxAttachments)*l.MaxAttachmentBytes*4/3 + int64(l.MaxMessageChars)*4
	limit := int64(max(l.MaxMessages, 1))*perMessage + 1<<20
	if l.MaxRequestBytes > 0 && limit > l.MaxRequestBytes {
		return l.MaxRequestBytes
	}
	return limit
}

func (h *Handler) validateChatRequest(req domain.ChatRequest) error {
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(fields, "; "))
		}
		return err
	}

	if h.limits.MaxMessages > 0 && len(req.Messages) > h.limits.MaxMessages {
		return fmt.Errorf("не больше %d сообщений на запрос", h.limits.MaxMessages)
	}
	for i, msg := range req.Messages {
		if n := utf8.RuneCountInString(msg.Content); n > h.limits.MaxMessageChars {
			return fmt.Errorf("сообщение %d длиннее %d символов", i, h.limits.MaxMessageChars)
		}
		if len(msg.Attachments) > h.limits.MaxAttachments {
			return fmt.Errorf("сообщение %d: не больше %d вложений", i, h.limits.MaxAttachments)
		}
		for _, att := range msg.Attachments {
			if size := attachmentSize(att); size > h.limits.MaxAttachmentBytes {
				return fmt.Errorf("вложение %s больше %d байт", att.Name, h.limits.MaxAttachmentBytes)
			}
		}
	}
	return nil
}

// attachmentSize trusts the larger of the declared size and the decoded
// payload length.
func attachmentSize(att domain.Attachment) int64 {
	decoded := int64(len(att.Payload))
	if att.Kind != domain.AttachmentMarkdown {
		decoded = decoded * 3 / 4
	}
	return max(att.Size, decoded)
}
