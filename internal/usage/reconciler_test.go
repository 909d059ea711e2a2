package usage

import (
	"context"
	"errors"
	"llmproxy/internal/models"
	"llmproxy/internal/pricing"
	"llmproxy/internal/routing"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type savedMessage struct {
	conversationID string
	role           string
	content        string
	model          *string
	attachments    []models.AttachmentMeta
}

type fakeStore struct {
	titles      []string
	messages    []savedMessage
	logs        []models.UsageLog
	convErr     error
	assistErr   error
	usageLogErr error
}

func (f *fakeStore) CreateConversation(ctx context.Context, userID int64, title string) (string, error) {
	if f.convErr != nil {
		return "", f.convErr
	}
	f.titles = append(f.titles, title)
	return "conv-new", nil
}

func (f *fakeStore) SaveMessage(ctx context.Context, conversationID string, userID int64, role, content string, model *string, attachments []models.AttachmentMeta) (string, error) {
	if role == models.RoleAssistant && f.assistErr != nil {
		return "", f.assistErr
	}
	f.messages = append(f.messages, savedMessage{conversationID, role, content, model, attachments})
	return role + "-id", nil
}

func (f *fakeStore) InsertUsageLog(ctx context.Context, log models.UsageLog) error {
	if f.usageLogErr != nil {
		return f.usageLogErr
	}
	f.logs = append(f.logs, log)
	return nil
}

type fakePrices map[string]pricing.Entry

func (f fakePrices) Lookup(modelID string) (pricing.Entry, bool) {
	e, ok := f[modelID]
	return e, ok
}

type costRecorder struct {
	added []float64
}

func (c *costRecorder) AddCost(actual float64) {
	c.added = append(c.added, actual)
}

func testTurn() Turn {
	return Turn{
		UserID: 7,
		Request: models.ChatRequest{
			Model: "claude-x",
			Messages: []models.ChatMessage{
				{Role: models.RoleSystem, Content: "sys"},
				{Role: models.RoleUser, Content: "first question", Attachments: []models.Attachment{
					{Kind: models.AttachmentImage, Name: "a.png", MimeType: "image/png", Size: 10, Payload: "AAAA"},
				}},
			},
		},
		Route:   routing.Route{ModelID: "claude-x", WireModelID: "anthropic/claude-x"},
		Content: "the answer",
		Usage:   &models.Usage{PromptTokens: 1000, CompletionTokens: 500},
	}
}

func TestReconcile_NewConversation(t *testing.T) {
	store := &fakeStore{}
	costs := &costRecorder{}
	prices := fakePrices{"anthropic/claude-x": {ModelID: "anthropic/claude-x", PromptPrice: 0.000003, CompletionPrice: 0.000015}}
	r := NewReconciler(store, prices, costs)

	res, err := r.Reconcile(context.Background(), testTurn())
	require.NoError(t, err)

	assert.Equal(t, "conv-new", res.ConversationID)
	assert.Equal(t, "assistant-id", res.MessageID)
	assert.Equal(t, []string{"first question"}, store.titles)

	require.Len(t, store.messages, 2)
	assert.Equal(t, models.RoleUser, store.messages[0].role)
	assert.Equal(t, []models.AttachmentMeta{{Kind: models.AttachmentImage, Name: "a.png", MimeType: "image/png", Size: 10}}, store.messages[0].attachments)
	assert.Equal(t, models.RoleAssistant, store.messages[1].role)
	assert.Equal(t, "the answer", store.messages[1].content)
	require.NotNil(t, store.messages[1].model)
	assert.Equal(t, "claude-x", *store.messages[1].model)

	require.NotNil(t, res.Cost)
	assert.InDelta(t, 0.0105, *res.Cost, 1e-12)
	assert.Equal(t, []float64{*res.Cost}, costs.added)

	require.Len(t, store.logs, 1)
	assert.Equal(t, models.UsageLog{
		UserID: 7, Model: "claude-x", PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500,
		Status: StatusSuccess, Cost: res.Cost,
	}, store.logs[0])
}

func TestReconcile_ExistingConversationNoPricing(t *testing.T) {
	store := &fakeStore{}
	costs := &costRecorder{}
	r := NewReconciler(store, fakePrices{}, costs)

	turn := testTurn()
	turn.ConversationID = "conv-old"
	res, err := r.Reconcile(context.Background(), turn)
	require.NoError(t, err)

	assert.Equal(t, "conv-old", res.ConversationID)
	assert.Empty(t, store.titles)
	assert.Nil(t, res.Cost)
	assert.Empty(t, costs.added)
	assert.Nil(t, store.logs[0].Cost)
}

func TestReconcile_AssistantSaveFailureStillSettlesCost(t *testing.T) {
	store := &fakeStore{assistErr: errors.New("db down")}
	costs := &costRecorder{}
	r := NewReconciler(store, fakePrices{"anthropic/claude-x": {PromptPrice: 1}}, costs)

	_, err := r.Reconcile(context.Background(), testTurn())
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.Equal(t, []float64{1000}, costs.added)
	assert.Empty(t, store.logs)
}

func TestReconcile_ConversationFailureIsFatal(t *testing.T) {
	store := &fakeStore{convErr: errors.New("db down")}
	r := NewReconciler(store, fakePrices{}, &costRecorder{})

	_, err := r.Reconcile(context.Background(), testTurn())
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.Empty(t, store.messages)
}

func TestReconcile_UsageLogFailureIsSwallowed(t *testing.T) {
	store := &fakeStore{usageLogErr: errors.New("disk full")}
	r := NewReconciler(store, fakePrices{}, &costRecorder{})

	res, err := r.Reconcile(context.Background(), testTurn())
	require.NoError(t, err)
	assert.Equal(t, "assistant-id", res.MessageID)
}

func TestTokens(t *testing.T) {
	p, c := Tokens(&models.Usage{PromptTokens: 3, CompletionTokens: 4}, "ignored")
	assert.Equal(t, 3, p)
	assert.Equal(t, 4, c)

	p, c = Tokens(nil, "one two three")
	assert.Equal(t, 0, p)
	assert.Equal(t, 4, c)

	p, c = Tokens(&models.Usage{}, "")
	assert.Equal(t, 0, p)
	assert.Equal(t, 0, c)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, defaultTitle, Title("   "))
	assert.Equal(t, "short", Title(" short "))

	long := strings.Repeat("я", 80)
	assert.Equal(t, strings.Repeat("я", 50), Title(long))
}
