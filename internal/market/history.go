package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/solfunk/internal/errs"
	"github.com/ajitpratap0/solfunk/internal/metrics"
)

const (
	historyCacheTTL = 30 * time.Minute
	// The provider throttles aggressively; keep at least 2s between calls.
	historyMinInterval = 2 * time.Second
)

// PricePoint is one historical price sample.
type PricePoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// History fetches historical token prices. Responses are cached for 30
// minutes, in Redis when available and in memory otherwise.
type History struct {
	http     *resty.Client
	limiter  *rate.Limiter
	cache    *metrics.RedisMetrics
	mu       sync.Mutex
	inMem    map[string]memHistory
	now      func() time.Time
	log      zerolog.Logger
}

type memHistory struct {
	points  []PricePoint
	cachedAt time.Time
}

// NewHistory builds the history client. redisClient may be nil; the
// in-memory fallback keeps the 30-minute cache semantics either way.
func NewHistory(baseURL, apiKey string, timeout time.Duration, redisClient *redis.Client, log zerolog.Logger) *History {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("x-chain", "solana")
	if apiKey != "" {
		httpClient.SetHeader("X-API-KEY", apiKey)
	}

	h := &History{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Every(historyMinInterval), 1),
		inMem:   make(map[string]memHistory),
		now:     time.Now,
		log:     log.With().Str("component", "history").Logger(),
	}
	if redisClient != nil {
		h.cache = metrics.NewRedisMetrics(redisClient)
	}
	return h
}

type historyResponse struct {
	Data struct {
		Items []historyItem `json:"items"`
	} `json:"data"`
	// Some deployments skip the data envelope.
	Items   []historyItem `json:"items"`
	Success bool          `json:"success"`
}

type historyItem struct {
	UnixTime int64   `json:"unixTime"`
	Value    float64 `json:"value"`
}

func (r *historyResponse) points() []PricePoint {
	items := r.Data.Items
	if len(items) == 0 {
		items = r.Items
	}
	pts := make([]PricePoint, 0, len(items))
	for _, it := range items {
		pts = append(pts, PricePoint{Time: time.Unix(it.UnixTime, 0), Value: it.Value})
	}
	return pts
}

// HourlyPrices returns hourly price samples covering the last N days.
func (h *History) HourlyPrices(ctx context.Context, mint string, days int) ([]PricePoint, error) {
	to := h.now().Truncate(time.Hour)
	from := to.Add(-time.Duration(days) * 24 * time.Hour)
	key := fmt.Sprintf("history:%s:1H:%d:%d", mint, from.Unix(), to.Unix())

	if pts, ok := h.cached(ctx, key); ok {
		return pts, nil
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var out historyResponse
	resp, err := h.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"address":   mint,
			"type":      "1H",
			"time_from": fmt.Sprintf("%d", from.Unix()),
			"time_to":   fmt.Sprintf("%d", to.Unix()),
		}).
		SetResult(&out).
		Get("/defi/history_price")
	if err != nil {
		return nil, errs.Classify(err)
	}
	if resp.StatusCode() == 429 {
		return nil, fmt.Errorf("%w: history provider", errs.ErrRateLimited)
	}
	if resp.IsError() {
		return nil, errs.Classify(fmt.Errorf("history provider status %d", resp.StatusCode()))
	}

	pts := out.points()
	h.store(key, pts)
	return pts, nil
}

func (h *History) cached(ctx context.Context, key string) ([]PricePoint, bool) {
	if h.cache != nil {
		raw, err := h.cache.Get(ctx, key)
		if err == nil {
			var pts []PricePoint
			if jsonErr := json.Unmarshal([]byte(raw), &pts); jsonErr == nil {
				return pts, true
			}
		} else if err != redis.Nil {
			h.log.Warn().Err(err).Msg("Redis lookup failed, trying memory cache")
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if ent, ok := h.inMem[key]; ok && h.now().Sub(ent.cachedAt) < historyCacheTTL {
		return ent.points, true
	}
	return nil, false
}

func (h *History) store(key string, pts []PricePoint) {
	h.mu.Lock()
	h.inMem[key] = memHistory{points: pts, cachedAt: h.now()}
	// Opportunistic cleanup of expired windows
	for k, ent := range h.inMem {
		if h.now().Sub(ent.cachedAt) >= historyCacheTTL {
			delete(h.inMem, k)
		}
	}
	h.mu.Unlock()

	if h.cache == nil {
		return
	}
	// Write-behind: a cache failure must not block the caller.
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		data, err := json.Marshal(pts)
		if err != nil {
			return
		}
		if err := h.cache.Set(cacheCtx, key, data, historyCacheTTL); err != nil {
			h.log.Warn().Err(err).Msg("Failed to cache history response")
		}
	}()
}
