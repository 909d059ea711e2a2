package api

import (
	"bufio"
	"context"
	"encoding/json"
	"llmproxy/internal/attachments"
	"llmproxy/internal/auth"
	"llmproxy/internal/chat"
	"llmproxy/internal/costguard"
	"llmproxy/internal/messagestore/models"
	domain "llmproxy/internal/models"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signingKey = "handler-test-key"

type fakeChat struct {
	events    []domain.Event
	streamErr error
	reply     chat.Reply
	userID    int64
	req       domain.ChatRequest
}

func (f *fakeChat) Stream(ctx context.Context, userID int64, req domain.ChatRequest) (<-chan domain.Event, error) {
	f.userID, f.req = userID, req
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	out := make(chan domain.Event, len(f.events))
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	return out, nil
}

func (f *fakeChat) Complete(ctx context.Context, userID int64, req domain.ChatRequest) (chat.Reply, error) {
	f.userID, f.req = userID, req
	return f.reply, f.streamErr
}

type fakeHistory struct {
	owner int64
	items []models.MessageHistoryItem
}

func (f *fakeHistory) GetConversationOwner(ctx context.Context, conversationID string) (int64, error) {
	if f.owner == 0 {
		return 0, domain.ErrConversationNotFound
	}
	return f.owner, nil
}

func (f *fakeHistory) GetMessageHistory(ctx context.Context, conversationID string) ([]models.MessageHistoryItem, error) {
	return f.items, nil
}

type fakeCosts struct{}

func (fakeCosts) Snapshot() costguard.Snapshot {
	return costguard.Snapshot{Accumulated: 1.5, Ceiling: 50}
}

type fakePricing struct{ stale bool }

func (f fakePricing) Len() int             { return 3 }
func (f fakePricing) FetchedAt() time.Time { return time.Time{} }
func (f fakePricing) Stale() bool          { return f.stale }

type fakeRouting struct{}

func (fakeRouting) Entries() int { return 2 }

func newServer(t *testing.T, svc *fakeChat, history *fakeHistory) *httptest.Server {
	t.Helper()
	h := NewHandler(svc, history, fakeCosts{}, fakePricing{}, fakeRouting{}, Limits{
		MaxMessageChars:    20,
		MaxMessages:        4,
		MaxAttachments:     2,
		MaxAttachmentBytes: 16,
	})
	mux := http.NewServeMux()
	h.Routes(mux, signingKey)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func post(t *testing.T, url, body string, userID int64) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	if userID > 0 {
		token, err := auth.GenerateJWTToken(userID, signingKey, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

const validBody = `{"model":"gpt-4o","messages":[{"role":"user","content":"Hello"}]}`

func TestStreamChat_SSE(t *testing.T) {
	svc := &fakeChat{events: []domain.Event{
		domain.ContentEvent("Hi"),
		domain.CompleteEvent("conv-1", "msg-1"),
	}}
	server := newServer(t, svc, &fakeHistory{})

	resp := post(t, server.URL+"/chat/stream", validBody, 9)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, int64(9), svc.userID)
	assert.Equal(t, "gpt-4o", svc.req.Model)

	var frames []domain.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev domain.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		frames = append(frames, ev)
	}
	assert.Equal(t, svc.events, frames)
}

func TestStreamChat_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"daily limit", domain.ErrDailyLimitExceeded, http.StatusTooManyRequests},
		{"cost ceiling", domain.ErrHourlyCostLimitExceeded, http.StatusTooManyRequests},
		{"no provider", domain.ErrConfiguration, http.StatusServiceUnavailable},
		{"foreign conversation", domain.ErrConversationNotFound, http.StatusNotFound},
		{"broken attachment", attachments.ErrInvalidPayload, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := newServer(t, &fakeChat{streamErr: tc.err}, &fakeHistory{})
			resp := post(t, server.URL+"/chat/stream", validBody, 1)
			assert.Equal(t, tc.status, resp.StatusCode)

			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.err.Error(), body.Error)
		})
	}
}

func TestStreamChat_RequiresToken(t *testing.T) {
	svc := &fakeChat{}
	server := newServer(t, svc, &fakeHistory{})

	resp := post(t, server.URL+"/chat/stream", validBody, 0)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, svc.userID)
}

func TestStreamChat_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"no model", `{"messages":[{"role":"user","content":"x"}]}`},
		{"no messages", `{"model":"gpt-4o","messages":[]}`},
		{"bad role", `{"model":"gpt-4o","messages":[{"role":"tool","content":"x"}]}`},
		{"too long", `{"model":"gpt-4o","messages":[{"role":"user","content":"` + strings.Repeat("a", 21) + `"}]}`},
		{"bad conversation id", `{"model":"gpt-4o","conversationId":"nope","messages":[{"role":"user","content":"x"}]}`},
		{"temperature out of range", `{"model":"gpt-4o","temperature":3,"messages":[{"role":"user","content":"x"}]}`},
		{"unknown attachment type", `{"model":"gpt-4o","messages":[{"role":"user","content":"x","attachments":[{"type":"zip","name":"a.zip"}]}]}`},
		{"attachment too big", `{"model":"gpt-4o","messages":[{"role":"user","content":"x","attachments":[{"type":"image","name":"a.png","size":17}]}]}`},
		{"too many attachments", `{"model":"gpt-4o","messages":[{"role":"user","content":"x","attachments":[` +
			`{"type":"markdown","name":"1.md","data":"a"},{"type":"markdown","name":"2.md","data":"b"},{"type":"markdown","name":"3.md","data":"c"}]}]}`},
		{"too many messages", `{"model":"gpt-4o","messages":[` + strings.Repeat(`{"role":"user","content":"x"},`, 4) + `{"role":"user","content":"x"}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeChat{}
			server := newServer(t, svc, &fakeHistory{})
			resp := post(t, server.URL+"/chat/stream", tc.body, 1)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Zero(t, svc.userID)
		})
	}
}

func TestStreamChat_AttachmentLimitIsPerMessage(t *testing.T) {
	twoFiles := `"attachments":[{"type":"markdown","name":"1.md","data":"a"},{"type":"markdown","name":"2.md","data":"b"}]`
	body := `{"model":"gpt-4o","messages":[` +
		`{"role":"user","content":"first",` + twoFiles + `},` +
		`{"role":"assistant","content":"ok"},` +
		`{"role":"user","content":"second",` + twoFiles + `}]}`

	svc := &fakeChat{events: []domain.Event{domain.CompleteEvent("c", "m")}}
	server := newServer(t, svc, &fakeHistory{})

	resp := post(t, server.URL+"/chat/stream", body, 1)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, svc.req.Messages, 3)
	assert.Len(t, svc.req.Messages[2].Attachments, 2)
}

func TestLimits_BodyScalesWithMessages(t *testing.T) {
	one := Limits{MaxMessageChars: 10, MaxMessages: 1, MaxAttachments: 1, MaxAttachmentBytes: 300}
	ten := one
	ten.MaxMessages = 10
	assert.Equal(t, one.maxBodyBytes()-1<<20, (ten.maxBodyBytes()-1<<20)/10)

	capped := ten
	capped.MaxRequestBytes = 2048
	assert.Equal(t, int64(2048), capped.maxBodyBytes())
}

func TestCompleteChat(t *testing.T) {
	svc := &fakeChat{reply: chat.Reply{ConversationID: "c", MessageID: "m", Content: "answer", Model: "gpt-4o"}}
	server := newServer(t, svc, &fakeHistory{})

	resp := post(t, server.URL+"/chat/complete", validBody, 3)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply chat.Reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal(t, svc.reply, reply)
}

func TestHistory(t *testing.T) {
	history := &fakeHistory{owner: 4, items: []models.MessageHistoryItem{
		{Role: domain.RoleUser, Content: "q"},
		{Role: domain.RoleAssistant, Content: "a", Model: "gpt-4o"},
	}}
	server := newServer(t, &fakeChat{}, history)
	url := server.URL + "/conversations/6f1c2b8e-3a4d-4e5f-9a0b-1c2d3e4f5a6b/messages"

	get := func(userID int64) *http.Response {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		require.NoError(t, err)
		token, err := auth.GenerateJWTToken(userID, signingKey, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := get(4)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Messages []models.MessageHistoryItem `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Messages, 2)

	assert.Equal(t, http.StatusNotFound, get(5).StatusCode)
}

func TestHealth(t *testing.T) {
	server := newServer(t, &fakeChat{}, &fakeHistory{})

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 50.0, body.CostWindow.Ceiling)
	assert.Equal(t, 3, body.Pricing.Models)
	assert.Equal(t, 2, body.RoutingEntries)
}
