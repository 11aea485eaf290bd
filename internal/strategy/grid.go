package strategy

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kirillm/crystalbot/internal/analysis"
	"github.com/kirillm/crystalbot/internal/domain"
)

type GridConfig struct {
	Lower           float64 // границы диапазона; 0 = строить вокруг первой цены
	Upper           float64
	Levels          int
	SpacingPercent  float64 // шаг при автоматическом построении
	TotalInvestment float64
	Proximity       float64 // доля цены, при которой уровень срабатывает
}

// GridLevel уровень сетки. Filled выставляется только подтвержденным исполнением.
// Quantity у встречного уровня равно исполненному количеству.
type GridLevel struct {
	Price     float64       `json:"price"`
	Side      domain.Action `json:"side"`
	Quantity  float64       `json:"quantity,omitempty"`
	Filled    bool          `json:"filled"`
	FilledQty float64       `json:"filled_qty,omitempty"`
	FilledAt  time.Time     `json:"filled_at,omitempty"`
}

// Grid сеточная стратегия. Сигнал по уровню выдается каждый цикл, пока
// уровень не исполнен; исполнение подтверждается через OnFill.
type Grid struct {
	cfg  GridConfig
	mu   sync.Mutex
	grid map[string][]GridLevel
}

func NewGrid(cfg GridConfig) *Grid {
	if cfg.Levels < 2 {
		cfg.Levels = 2
	}
	if cfg.Proximity <= 0 {
		cfg.Proximity = 0.001
	}
	return &Grid{cfg: cfg, grid: make(map[string][]GridLevel)}
}

func (g *Grid) Name() string { return TypeGrid }

func validRange(lower, upper float64) error {
	if lower <= 0 || upper <= lower {
		return fmt.Errorf("invalid grid range %.8f-%.8f", lower, upper)
	}
	return nil
}

// setRange строит num+1 равномерных уровней между lower и upper: нижняя
// половина на покупку, верхняя на продажу
func (g *Grid) setRange(pair string, lower, upper float64) error {
	if err := validRange(lower, upper); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.grid[pair] = linearLevels(lower, upper, g.cfg.Levels)
	return nil
}

func linearLevels(lower, upper float64, num int) []GridLevel {
	step := (upper - lower) / float64(num)
	levels := make([]GridLevel, 0, num+1)
	for i := 0; i <= num; i++ {
		side := domain.ActionSell
		if i < num/2 {
			side = domain.ActionBuy
		}
		levels = append(levels, GridLevel{Price: roundPrice(lower + step*float64(i)), Side: side})
	}
	return levels
}

// calculateGridLevels уровни с шагом spacingPercent вокруг текущей цены
func calculateGridLevels(currentPrice float64, numLevels int, spacingPercent float64) []GridLevel {
	levels := make([]GridLevel, 0, numLevels)
	halfLevels := numLevels / 2

	// Уровни ниже текущей цены (buy)
	for i := halfLevels; i >= 1; i-- {
		levels = append(levels, GridLevel{
			Price: roundPrice(currentPrice * (1 - (spacingPercent/100)*float64(i))),
			Side:  domain.ActionBuy,
		})
	}

	// Уровни выше текущей цены (sell)
	for i := 1; i <= numLevels-halfLevels; i++ {
		levels = append(levels, GridLevel{
			Price: roundPrice(currentPrice * (1 + (spacingPercent/100)*float64(i))),
			Side:  domain.ActionSell,
		})
	}

	return levels
}

// Levels копия уровней пары
func (g *Grid) Levels(pair string) []GridLevel {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]GridLevel, len(g.grid[pair]))
	copy(out, g.grid[pair])
	return out
}

func (g *Grid) Evaluate(a analysis.Analysis, _ domain.PortfolioSnapshot) Signal {
	price := a.CurrentPrice

	g.mu.Lock()
	defer g.mu.Unlock()

	levels, ok := g.grid[a.Pair]
	if !ok {
		switch {
		case validRange(g.cfg.Lower, g.cfg.Upper) == nil:
			levels = linearLevels(g.cfg.Lower, g.cfg.Upper, g.cfg.Levels)
		case price > 0 && g.cfg.SpacingPercent > 0:
			levels = calculateGridLevels(price, g.cfg.Levels, g.cfg.SpacingPercent)
		default:
			return hold(TypeGrid, a.Pair, "Grid not initialized")
		}
		g.grid[a.Pair] = levels
	}

	for _, level := range levels {
		if level.Filled || level.Price <= 0 {
			continue
		}
		if math.Abs(price-level.Price)/level.Price < g.cfg.Proximity {
			amount := g.cfg.TotalInvestment / float64(g.cfg.Levels)
			reason := fmt.Sprintf("Grid %s triggered at %.2f", level.Side, level.Price)
			if level.Quantity > 0 {
				amount = level.Quantity * level.Price
				reason = fmt.Sprintf("Grid %s %.8f triggered at %.2f", level.Side, level.Quantity, level.Price)
			}
			return Signal{
				Strategy: TypeGrid,
				Action:   level.Side,
				Pair:     a.Pair,
				Strength: 0.9,
				Reason:   reason,
				Amount:   amount,
			}
		}
	}

	return hold(TypeGrid, a.Pair, "Price %.2f not at any grid level", price)
}

// OnFill помечает исполненным ближайший неисполненный уровень той же стороны
// и выставляет встречный уровень на шаг сетки дальше. Без исполненного
// количества уровень не меняется.
func (g *Grid) OnFill(pair string, side domain.Action, price, quantity float64, at time.Time) {
	if quantity <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	levels := g.grid[pair]
	idx := -1
	best := math.MaxFloat64
	for i, level := range levels {
		if level.Filled || level.Side != side || level.Price <= 0 {
			continue
		}
		if dist := math.Abs(price-level.Price) / level.Price; dist < best {
			best, idx = dist, i
		}
	}
	if idx < 0 || best >= g.cfg.Proximity*5 {
		return
	}

	levels[idx].Filled = true
	levels[idx].FilledQty = quantity
	levels[idx].FilledAt = at

	counter := GridLevel{Side: domain.ActionSell, Price: roundPrice(levels[idx].Price * (1 + g.spacing(levels))), Quantity: quantity}
	if side == domain.ActionSell {
		counter = GridLevel{Side: domain.ActionBuy, Price: roundPrice(levels[idx].Price * (1 - g.spacing(levels)))}
	}
	levels = append(levels, counter)
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	g.grid[pair] = levels
}

// spacing шаг сетки как доля цены
func (g *Grid) spacing(levels []GridLevel) float64 {
	if g.cfg.SpacingPercent > 0 {
		return g.cfg.SpacingPercent / 100
	}
	if len(levels) >= 2 && levels[0].Price > 0 {
		return (levels[1].Price - levels[0].Price) / levels[0].Price
	}
	return 0.01
}

func roundPrice(p float64) float64 {
	if p < 1 {
		return math.Round(p*1e8) / 1e8
	}
	return math.Round(p*100) / 100
}
