package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type Entry struct {
	ModelID         string
	PromptPrice     float64
	CompletionPrice float64
}

type snapshot struct {
	entries   map[string]Entry
	fetchedAt time.Time
}

// Cache holds per-token prices from the pricing feed. Lookups only read the
// current snapshot; Refresh replaces it wholesale.
type Cache struct {
	feedURL    string
	interval   time.Duration
	httpClient *http.Client
	current    atomic.Pointer[snapshot]
	now        func() time.Time
}

type feedResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Pricing struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
	} `json:"data"`
}

func NewCache(feedURL string, interval time.Duration, httpClient *http.Client) *Cache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Cache{
		feedURL:    feedURL,
		interval:   interval,
		httpClient: httpClient,
		now:        time.Now,
	}
	c.current.Store(&snapshot{entries: map[string]Entry{}})
	return c
}

func (c *Cache) Lookup(modelID string) (Entry, bool) {
	e, ok := c.current.Load().entries[modelID]
	return e, ok
}

// Replace installs a new set of entries, mostly for seeding and tests.
func (c *Cache) Replace(entries []Entry) {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.ModelID] = e
	}
	c.current.Store(&snapshot{entries: m, fetchedAt: c.now()})
}

func (c *Cache) Len() int {
	return len(c.current.Load().entries)
}

func (c *Cache) FetchedAt() time.Time {
	return c.current.Load().fetchedAt
}

func (c *Cache) Stale() bool {
	fetched := c.FetchedAt()
	return fetched.IsZero() || c.now().Sub(fetched) > c.interval
}

// Refresh loads the feed. On failure the previous snapshot stays in place.
func (c *Cache) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return fmt.Errorf("ошибка при создании запроса цен: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка при загрузке цен: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("сервис цен вернул %d: %s", resp.StatusCode, string(body))
	}

	var feed feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return fmt.Errorf("ошибка при разборе цен: %w", err)
	}

	entries := make([]Entry, 0, len(feed.Data))
	for _, m := range feed.Data {
		prompt, err := strconv.ParseFloat(m.Pricing.Prompt, 64)
		if err != nil {
			continue
		}
		completion, err := strconv.ParseFloat(m.Pricing.Completion, 64)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{ModelID: m.ID, PromptPrice: prompt, CompletionPrice: completion})
	}

	c.Replace(entries)
	logrus.Infof("Цены моделей обновлены: %d записей", len(entries))
	return nil
}

func (c *Cache) StartRefresher(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					logrus.Errorf("Ошибка при обновлении цен: %v", err)
				}
			}
		}
	}()
}
