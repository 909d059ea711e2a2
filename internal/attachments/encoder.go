package attachments

import (
	"encoding/base64"
	"errors"
	"fmt"
	"llmproxy/internal/models"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Schema is the content layout a provider expects for multimodal messages.
type Schema int

const (
	// SchemaParts: OpenAI-style parts with type text / image_url / file.
	SchemaParts Schema = iota
	// SchemaBlocks: Anthropic-style blocks with type text / image / document.
	SchemaBlocks
	// SchemaGemini: Gemini parts, each inline_data or text.
	SchemaGemini
)

func (s Schema) String() string {
	switch s {
	case SchemaParts:
		return "parts"
	case SchemaBlocks:
		return "blocks"
	case SchemaGemini:
		return "gemini"
	}
	return fmt.Sprintf("schema(%d)", int(s))
}

const pdfMimeType = "application/pdf"

var (
	ErrMissingPayload  = errors.New("у вложения нет содержимого")
	ErrInvalidPayload  = errors.New("содержимое вложения не является корректным base64")
	ErrUnsupportedKind = errors.New("неподдерживаемый тип вложения")
	ErrUnknownSchema   = errors.New("неизвестная схема содержимого")
)

// Encode converts one attachment into the part the target schema expects.
// Markdown always yields a text part, never an inline binary part.
func Encode(att models.Attachment, schema Schema) (Part, error) {
	if att.Payload == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingPayload, att.Name)
	}

	switch att.Kind {
	case models.AttachmentMarkdown:
		return encodeMarkdown(att, schema)
	case models.AttachmentImage:
		mime, err := imageMimeType(att)
		if err != nil {
			return nil, err
		}
		return encodeBinary(att, mime, schema, false)
	case models.AttachmentPDF:
		return encodeBinary(att, pdfMimeType, schema, true)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, att.Kind)
}

func encodeMarkdown(att models.Attachment, schema Schema) (Part, error) {
	block := MarkdownBlock(att.Name, att.Payload)
	switch schema {
	case SchemaParts, SchemaBlocks:
		return TextPart{Type: "text", Text: block}, nil
	case SchemaGemini:
		return GeminiTextPart{Text: block}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, schema)
}

func encodeBinary(att models.Attachment, mime string, schema Schema, document bool) (Part, error) {
	switch schema {
	case SchemaParts:
		uri := dataURI(mime, att.Payload)
		if document {
			return FilePart{Type: "file", File: FileData{Filename: att.Name, FileData: uri}}, nil
		}
		return ImageURLPart{Type: "image_url", ImageURL: ImageURL{URL: uri}}, nil
	case SchemaBlocks:
		source := Base64Source{Type: "base64", MediaType: mime, Data: att.Payload}
		if document {
			return DocumentBlock{Type: "document", Source: source}, nil
		}
		return ImageBlock{Type: "image", Source: source}, nil
	case SchemaGemini:
		return GeminiInlinePart{InlineData: InlineData{MimeType: mime, Data: att.Payload}}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, schema)
}

// MarkdownBlock wraps a text attachment in the delimiters every schema shares.
func MarkdownBlock(name, text string) string {
	return fmt.Sprintf("--- File: %s ---\n%s\n--- End of file ---", name, text)
}

func dataURI(mime, payload string) string {
	return "data:" + mime + ";base64," + payload
}

func imageMimeType(att models.Attachment) (string, error) {
	declared := strings.TrimSpace(att.MimeType)
	if declared != "" && declared != "application/octet-stream" {
		return declared, nil
	}

	raw, err := base64.StdEncoding.DecodeString(att.Payload)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidPayload, att.Name)
	}
	detected := mimetype.Detect(raw)
	if !strings.HasPrefix(detected.String(), "image/") {
		return "", fmt.Errorf("%w: %s определён как %s", ErrUnsupportedKind, att.Name, detected.String())
	}
	return detected.String(), nil
}

// EncodeContent builds the full content value of a message for a schema.
// The result is either a plain string or a slice of parts, ready for JSON.
func EncodeContent(msg models.ChatMessage, schema Schema) (any, error) {
	switch schema {
	case SchemaParts:
		return encodeParts(msg)
	case SchemaBlocks:
		return encodeBlocks(msg)
	case SchemaGemini:
		return EncodeGeminiParts(msg)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, schema)
}

func encodeParts(msg models.ChatMessage) (any, error) {
	text := msg.Content
	var parts []Part
	for _, att := range msg.Attachments {
		part, err := Encode(att, SchemaParts)
		if err != nil {
			return nil, err
		}
		if tp, ok := part.(TextPart); ok {
			text += "\n\n" + tp.Text
			continue
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		return text, nil
	}
	return append([]Part{TextPart{Type: "text", Text: text}}, parts...), nil
}

func encodeBlocks(msg models.ChatMessage) (any, error) {
	if len(msg.Attachments) == 0 {
		return msg.Content, nil
	}

	blocks := make([]Part, 0, len(msg.Attachments)+1)
	for _, att := range msg.Attachments {
		block, err := Encode(att, SchemaBlocks)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return append(blocks, TextPart{Type: "text", Text: msg.Content}), nil
}

// EncodeGeminiParts always ends with the message text, even with no attachments.
func EncodeGeminiParts(msg models.ChatMessage) ([]Part, error) {
	parts := make([]Part, 0, len(msg.Attachments)+1)
	for _, att := range msg.Attachments {
		part, err := Encode(att, SchemaGemini)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return append(parts, GeminiTextPart{Text: msg.Content}), nil
}
