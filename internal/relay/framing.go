package relay

import (
	"encoding/json"
	"errors"
	"llmproxy/internal/models"
	"strings"
)

const doneSentinel = "[DONE]"

var errMalformedFrame = errors.New("некорректный фрейм")

type frame struct {
	delta       string
	usage       *models.Usage
	done        bool
	upstreamErr string
}

type decoder func(data []byte) (frame, error)

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type geminiChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func decoderFor(kind models.ProviderKind) decoder {
	if kind == models.ProviderGemini {
		return decodeGemini
	}
	return decodeOpenAI
}

// parseLine extracts the payload of a "data:" line. ok is false for blank
// lines, comments and other SSE fields.
func parseLine(line string) (data string, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}

func decodeOpenAI(data []byte) (frame, error) {
	var chunk openAIChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return frame{}, errMalformedFrame
	}

	var f frame
	if chunk.Error != nil {
		f.upstreamErr = chunk.Error.Message
		if f.upstreamErr == "" {
			f.upstreamErr = "неизвестная ошибка провайдера"
		}
		return f, nil
	}
	for _, c := range chunk.Choices {
		f.delta += c.Delta.Content
	}
	if chunk.Usage != nil {
		f.usage = &models.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
		}
	}
	return f, nil
}

func decodeGemini(data []byte) (frame, error) {
	var chunk geminiChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return frame{}, errMalformedFrame
	}

	var f frame
	if chunk.Error != nil {
		f.upstreamErr = chunk.Error.Message
		if f.upstreamErr == "" {
			f.upstreamErr = chunk.Error.Status
		}
		if f.upstreamErr == "" {
			f.upstreamErr = "неизвестная ошибка провайдера"
		}
		return f, nil
	}
	if len(chunk.Candidates) > 0 {
		for _, p := range chunk.Candidates[0].Content.Parts {
			f.delta += p.Text
		}
	}
	if chunk.UsageMetadata != nil {
		f.usage = &models.Usage{
			PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
			CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
		}
	}
	return f, nil
}
