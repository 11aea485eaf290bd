package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/crystalbot/internal/domain"
	"github.com/kirillm/crystalbot/pkg/utils"
)

// DefaultCacheTTL сколько последняя удачная серия служит запасом
const DefaultCacheTTL = 5 * time.Minute

type cachedSeries struct {
	bars []domain.Bar
	at   time.Time
}

// MarketFailover источник рыночных данных с запасными источниками и
// кешем последней удачной серии
type MarketFailover struct {
	primary   domain.MarketData
	fallbacks []domain.MarketData
	ttl       time.Duration
	logger    *utils.Logger
	nowFn     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSeries
}

// NewMarketFailover создает failover поверх primary. ttl <= 0 означает DefaultCacheTTL.
func NewMarketFailover(primary domain.MarketData, ttl time.Duration, logger *utils.Logger) *MarketFailover {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = utils.Default()
	}
	return &MarketFailover{
		primary: primary,
		ttl:     ttl,
		logger:  logger,
		nowFn:   time.Now,
		cache:   make(map[string]cachedSeries),
	}
}

// AddFallback добавляет запасной источник
func (m *MarketFailover) AddFallback(source domain.MarketData) {
	m.fallbacks = append(m.fallbacks, source)
}

// GetSeries пробует основной источник, затем запасные, затем кеш
func (m *MarketFailover) GetSeries(ctx context.Context, pair, interval string, limit int) ([]domain.Bar, error) {
	bars, err := m.primary.GetSeries(ctx, pair, interval, limit)
	if err == nil && len(bars) > 0 {
		m.store(pair, interval, bars)
		return bars, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	lastErr := err

	for i, source := range m.fallbacks {
		bars, err := source.GetSeries(ctx, pair, interval, limit)
		if err == nil && len(bars) > 0 {
			m.logger.Warn("⚠️  Using fallback source #%d for %s %s", i+1, pair, interval)
			m.store(pair, interval, bars)
			return bars, nil
		}
		if err != nil {
			lastErr = err
		}
	}

	if bars, age, ok := m.cached(pair, interval, limit); ok {
		m.logger.Warn("⚠️  Using cached %s %s series (age: %v)", pair, interval, age.Round(time.Second))
		return bars, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("empty series")
	}
	return nil, fmt.Errorf("market data for %s: %w", pair, errors.Join(domain.ErrProviderUnavailable, lastErr))
}

func cacheKey(pair, interval string) string { return pair + "|" + interval }

func (m *MarketFailover) store(pair, interval string, bars []domain.Bar) {
	cp := make([]domain.Bar, len(bars))
	copy(cp, bars)
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cacheKey(pair, interval)
	// короткая серия (цена для риск-гейта) не вытесняет длинную
	if prev, ok := m.cache[key]; ok && len(prev.bars) > len(cp) && m.nowFn().Sub(prev.at) < m.ttl {
		return
	}
	m.cache[key] = cachedSeries{bars: cp, at: m.nowFn()}
}

func (m *MarketFailover) cached(pair, interval string, limit int) ([]domain.Bar, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cache[cacheKey(pair, interval)]
	if !ok {
		return nil, 0, false
	}
	age := m.nowFn().Sub(c.at)
	if age >= m.ttl {
		return nil, age, false
	}
	bars := c.bars
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	return out, age, true
}
