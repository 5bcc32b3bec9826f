package dispatch

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"livedash/internal/interfaces"
	"livedash/internal/logger"
	"livedash/internal/types"

	json "github.com/goccy/go-json"
)

type frame struct {
	Event string          `json:"event"`
	Kind  string          `json:"kind"`
	Data  json.RawMessage `json:"data"`
}

func (f frame) kind() types.EventKind {
	if f.Event != "" {
		return types.EventKind(f.Event)
	}
	return types.EventKind(f.Kind)
}

// Stats counts what happened to inbound frames.
type Stats struct {
	MarketData   int64 `json:"market_data"`
	Portfolio    int64 `json:"portfolio"`
	Malformed    int64 `json:"malformed"`
	Unrecognized int64 `json:"unrecognized"`
	Rejected     int64 `json:"rejected"`
}

// Dispatcher routes raw frames by their declared event kind. Bad frames and
// unknown kinds are dropped without surfacing an error.
type Dispatcher struct {
	points    interfaces.Appender
	portfolio *Portfolio

	hooksMu     sync.RWMutex
	onMarket    func(ctx context.Context, p types.DataPoint)
	onPortfolio func(ctx context.Context, s types.PortfolioSnapshot)

	marketData   atomic.Int64
	replaced     atomic.Int64
	malformed    atomic.Int64
	unrecognized atomic.Int64
	rejected     atomic.Int64
}

var _ interfaces.Dispatcher = (*Dispatcher)(nil)

func New(points interfaces.Appender, portfolio *Portfolio) *Dispatcher {
	return &Dispatcher{
		points:    points,
		portfolio: portfolio,
	}
}

// OnMarketData registers a callback run after each accepted data point.
func (d *Dispatcher) OnMarketData(fn func(ctx context.Context, p types.DataPoint)) {
	d.hooksMu.Lock()
	d.onMarket = fn
	d.hooksMu.Unlock()
}

// OnPortfolio registers a callback run after each portfolio replacement.
func (d *Dispatcher) OnPortfolio(fn func(ctx context.Context, s types.PortfolioSnapshot)) {
	d.hooksMu.Lock()
	d.onPortfolio = fn
	d.hooksMu.Unlock()
}

func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		d.malformed.Add(1)
		logger.Frame(ctx, "", "malformed", "size", len(raw))
		return
	}

	var f frame
	if err := json.Unmarshal(trimmed, &f); err != nil {
		d.malformed.Add(1)
		logger.Frame(ctx, "", "malformed", "error", err)
		return
	}

	switch kind := f.kind(); kind {
	case types.EventMarketData:
		d.handleMarketData(ctx, f.Data)
	case types.EventPortfolio:
		d.handlePortfolio(ctx, f.Data)
	default:
		d.unrecognized.Add(1)
		logger.Frame(ctx, string(kind), "unrecognized")
	}
}

func (d *Dispatcher) handleMarketData(ctx context.Context, data json.RawMessage) {
	value, ok := coerceValue(data)
	if !ok {
		d.rejected.Add(1)
		logger.Frame(ctx, string(types.EventMarketData), "rejected", "payload", string(data))
		return
	}

	p := d.points.Append(value)
	d.marketData.Add(1)
	logger.Frame(ctx, string(types.EventMarketData), "appended", "sequence", p.Sequence, "value", p.Value)

	d.hooksMu.RLock()
	fn := d.onMarket
	d.hooksMu.RUnlock()
	if fn != nil {
		fn(ctx, p)
	}
}

func (d *Dispatcher) handlePortfolio(ctx context.Context, data json.RawMessage) {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		d.malformed.Add(1)
		logger.Frame(ctx, string(types.EventPortfolio), "malformed")
		return
	}

	snapshot := types.PortfolioSnapshot(data)
	d.portfolio.Replace(snapshot)
	d.replaced.Add(1)
	logger.Frame(ctx, string(types.EventPortfolio), "replaced", "size", len(data))

	d.hooksMu.RLock()
	fn := d.onPortfolio
	d.hooksMu.RUnlock()
	if fn != nil {
		fn(ctx, snapshot)
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		MarketData:   d.marketData.Load(),
		Portfolio:    d.replaced.Load(),
		Malformed:    d.malformed.Load(),
		Unrecognized: d.unrecognized.Load(),
		Rejected:     d.rejected.Load(),
	}
}
