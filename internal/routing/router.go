package routing

import (
	"context"
	"fmt"
	"llmproxy/internal/models"
	"llmproxy/pkg/config"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type Provider struct {
	Kind     models.ProviderKind
	BaseURL  string
	APIKey   string
	Prefixes []string
}

// Route is where and how a single request is sent upstream.
type Route struct {
	ModelID     string
	WireModelID string
	Kind        models.ProviderKind
	Endpoint    string
	BaseURL     string
	Credential  string
}

func (r Route) ViaAggregator() bool {
	return r.Kind == models.ProviderAggregator
}

type Source interface {
	GetRoutingConfig(ctx context.Context) ([]models.RoutingEntry, error)
}

type Router struct {
	providers  []Provider
	aggregator Provider
	table      atomic.Pointer[map[string]models.RoutingEntry]
}

func NewRouter(providers []Provider, aggregator Provider) *Router {
	r := &Router{
		providers:  providers,
		aggregator: aggregator,
	}
	r.Replace(nil)
	return r
}

func NewRouterFromConfig(cfg *config.Config) *Router {
	providers := []Provider{
		{Kind: models.ProviderOpenAI, BaseURL: cfg.OpenAIBaseURL, APIKey: cfg.OpenAIKey, Prefixes: []string{"gpt-", "o1", "o3", "o4", "chatgpt-"}},
		{Kind: models.ProviderGemini, BaseURL: cfg.GeminiBaseURL, APIKey: cfg.GeminiKey, Prefixes: []string{"gemini-"}},
		{Kind: models.ProviderDeepSeek, BaseURL: cfg.DeepSeekBaseURL, APIKey: cfg.DeepSeekKey, Prefixes: []string{"deepseek-"}},
	}
	aggregator := Provider{Kind: models.ProviderAggregator, BaseURL: cfg.OpenRouterBaseURL, APIKey: cfg.OpenRouterKey}

	for _, p := range providers {
		if p.APIKey != "" {
			logrus.Infof("Провайдер %s включён", p.Kind)
		}
	}
	if aggregator.APIKey != "" {
		logrus.Infof("Агрегатор %s включён", aggregator.Kind)
	}
	return NewRouter(providers, aggregator)
}

// Replace swaps the routing table wholesale.
func (r *Router) Replace(entries []models.RoutingEntry) {
	table := make(map[string]models.RoutingEntry, len(entries))
	for _, e := range entries {
		table[e.ModelID] = e
	}
	r.table.Store(&table)
}

func (r *Router) Entries() int {
	return len(*r.table.Load())
}

// Resolve never touches the network; the table is refreshed out of band.
func (r *Router) Resolve(modelID string) (Route, error) {
	table := *r.table.Load()

	if entry, ok := table[modelID]; ok && entry.UseAggregator && r.aggregator.APIKey != "" {
		wire := entry.AggregatorModelID
		if wire == "" {
			wire = modelID
		}
		return r.route(r.aggregator, modelID, wire), nil
	}

	provider, ok := r.match(modelID)
	if !ok {
		return Route{}, fmt.Errorf("%w: нет провайдера для модели %s", models.ErrConfiguration, modelID)
	}
	if provider.APIKey == "" {
		return Route{}, fmt.Errorf("%w: не задан ключ %s для модели %s", models.ErrConfiguration, provider.Kind, modelID)
	}
	return r.route(provider, modelID, modelID), nil
}

func (r *Router) route(p Provider, modelID, wire string) Route {
	base := strings.TrimRight(p.BaseURL, "/")
	endpoint := base + "/chat/completions"
	if p.Kind == models.ProviderGemini {
		endpoint = base + "/models/" + wire + ":streamGenerateContent?alt=sse"
	}
	return Route{
		ModelID:     modelID,
		WireModelID: wire,
		Kind:        p.Kind,
		Endpoint:    endpoint,
		BaseURL:     base,
		Credential:  p.APIKey,
	}
}

// match picks the provider with the longest matching model prefix.
func (r *Router) match(modelID string) (Provider, bool) {
	var best Provider
	bestLen := 0
	for _, p := range r.providers {
		for _, prefix := range p.Prefixes {
			if strings.HasPrefix(modelID, prefix) && len(prefix) > bestLen {
				best = p
				bestLen = len(prefix)
			}
		}
	}
	return best, bestLen > 0
}

func (r *Router) Refresh(ctx context.Context, src Source) error {
	entries, err := src.GetRoutingConfig(ctx)
	if err != nil {
		return fmt.Errorf("не удалось загрузить таблицу маршрутизации: %w", err)
	}
	r.Replace(entries)
	logrus.Infof("Таблица маршрутизации обновлена: %d записей", len(entries))
	return nil
}

func (r *Router) StartRefresher(ctx context.Context, src Source, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Refresh(ctx, src); err != nil {
					logrus.Errorf("Ошибка при обновлении маршрутизации: %v", err)
				}
			}
		}
	}()
}
