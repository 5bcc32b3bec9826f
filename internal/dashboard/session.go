package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"livedash/internal/buffer"
	"livedash/internal/chart"
	"livedash/internal/dispatch"
	"livedash/internal/dispatch/dispatchobs"
	"livedash/internal/interfaces"
	"livedash/internal/logger"
	"livedash/internal/stream"
	"livedash/internal/types"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// ErrNotActive is returned by operations that need a live view.
var ErrNotActive = errors.New("dashboard session is not active")

type Options struct {
	WSBase         string
	RetryDelay     time.Duration
	BufferCapacity int
	Chart          chart.Options
	// Dialer overrides the websocket dialer; nil uses the default.
	Dialer stream.Dialer
}

// Session is the lifetime of one dashboard view. Activate builds the
// buffer, portfolio, renderer and connection; Deactivate tears them down.
// A new activation always starts from an empty buffer.
type Session struct {
	opts  Options
	creds interfaces.CredentialAccessor

	mu         sync.RWMutex
	id         string
	points     *buffer.Rolling
	portfolio  *dispatch.Portfolio
	dispatcher *dispatch.Dispatcher
	renderer   *chart.SVGRenderer
	manager    *stream.Manager
	handle     *stream.Handle

	statusMu sync.RWMutex
	status   types.Status

	unauth chan struct{}
}

// View is the read-only snapshot the UI layer renders from.
type View struct {
	SessionID string           `json:"session_id"`
	Active    bool             `json:"active"`
	Status    types.Status     `json:"status"`
	Points    int              `json:"points"`
	Capacity  int              `json:"capacity"`
	Renders   int64            `json:"renders"`
	Stats     dispatch.Stats   `json:"stats"`
	Portfolio *time.Time       `json:"portfolio_updated_at,omitempty"`
	Latest    *types.DataPoint `json:"latest,omitempty"`
}

func NewSession(opts Options, creds interfaces.CredentialAccessor) *Session {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = stream.DefaultRetryDelay
	}
	if opts.BufferCapacity <= 0 || opts.BufferCapacity > buffer.DefaultCapacity {
		opts.BufferCapacity = buffer.DefaultCapacity
	}
	return &Session{
		opts:   opts,
		creds:  creds,
		status: types.Status{State: types.Disconnected, Since: time.Now()},
		unauth: make(chan struct{}, 1),
	}
}

// Activate starts the view. When no token is stored it returns
// stream.ErrUnauthenticated and the caller is expected to send the user to
// login. Activating an active session is a no-op.
func (s *Session) Activate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running() {
		return nil
	}
	if s.manager != nil {
		s.manager.Stop(s.handle)
	}

	s.id = uuid.NewString()
	ctx = logger.WithSession(ctx, s.id)

	points := buffer.New(s.opts.BufferCapacity)
	portfolio := dispatch.NewPortfolio()
	renderer := chart.NewSVGRenderer(s.opts.Chart)
	dispatcher := dispatch.New(points, portfolio)
	dispatcher.OnMarketData(redraw(renderer, points))
	routed := dispatchobs.Wrap(dispatcher)

	manager := stream.NewManager(stream.Config{
		WSBase: s.opts.WSBase,
		Retry:  backoff.NewConstantBackOff(s.opts.RetryDelay),
		Dialer: s.opts.Dialer,
	}, s.creds)
	manager.OnFrame(routed.Dispatch)
	manager.OnStatus(s.recordStatus)
	manager.OnUnauthenticated(s.signalUnauthenticated)

	s.points = points
	s.portfolio = portfolio
	s.dispatcher = dispatcher
	s.renderer = renderer
	s.manager = manager

	logger.Info(ctx, "Activating dashboard session", "ws_base", s.opts.WSBase, "capacity", points.Capacity())

	handle, err := manager.Start(ctx)
	if err != nil {
		if errors.Is(err, stream.ErrUnauthenticated) {
			s.signalUnauthenticated()
		}
		return err
	}
	s.handle = handle
	return nil
}

// Deactivate stops the connection and discards all view state.
func (s *Session) Deactivate(ctx context.Context) {
	s.mu.Lock()
	manager, handle, id := s.manager, s.handle, s.id
	s.handle = nil
	s.mu.Unlock()

	if manager != nil {
		manager.Stop(handle)
	}

	s.mu.Lock()
	if s.manager == manager {
		s.points = nil
		s.portfolio = nil
		s.dispatcher = nil
		s.renderer = nil
		s.manager = nil
	}
	s.mu.Unlock()

	if id != "" {
		logger.Info(logger.WithSession(ctx, id), "Dashboard session deactivated")
	}
}

// Logout deactivates the view and clears the stored token.
func (s *Session) Logout(ctx context.Context) error {
	s.Deactivate(ctx)
	if err := s.creds.Clear(); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	logger.Info(ctx, "Logged out")
	return nil
}

// Send forwards a client message over the live connection.
func (s *Session) Send(ctx context.Context, v any) error {
	s.mu.RLock()
	manager, active := s.manager, s.running()
	s.mu.RUnlock()
	if !active {
		return ErrNotActive
	}
	return manager.Send(ctx, v)
}

// Unauthenticated fires once per authorization failure so the surrounding
// UI can navigate to login.
func (s *Session) Unauthenticated() <-chan struct{} {
	return s.unauth
}

func (s *Session) Status() types.Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Active reports whether the connection loop is running. A session whose
// loop ended with an authorization failure is inactive.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running()
}

func (s *Session) running() bool {
	if s.handle == nil {
		return false
	}
	select {
	case <-s.handle.Done():
		return false
	default:
		return true
	}
}

// Points returns the buffered series, oldest first.
func (s *Session) Points() []types.DataPoint {
	s.mu.RLock()
	points := s.points
	s.mu.RUnlock()
	if points == nil {
		return []types.DataPoint{}
	}
	return points.Snapshot()
}

// Portfolio returns the latest portfolio payload, if any has arrived.
func (s *Session) Portfolio() (types.PortfolioSnapshot, bool) {
	s.mu.RLock()
	portfolio := s.portfolio
	s.mu.RUnlock()
	if portfolio == nil {
		return nil, false
	}
	return portfolio.Snapshot()
}

// SVG returns the latest chart. An inactive session renders the empty chart.
func (s *Session) SVG() []byte {
	s.mu.RLock()
	renderer := s.renderer
	s.mu.RUnlock()
	if renderer == nil {
		renderer = chart.NewSVGRenderer(s.opts.Chart)
	}
	return renderer.SVG()
}

func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		SessionID: s.id,
		Active:    s.running(),
		Status:    s.Status(),
		Capacity:  s.opts.BufferCapacity,
	}
	if s.points != nil {
		snapshot := s.points.Snapshot()
		v.Points = len(snapshot)
		if n := len(snapshot); n > 0 {
			latest := snapshot[n-1]
			v.Latest = &latest
		}
	}
	if s.renderer != nil {
		v.Renders = s.renderer.Renders()
	}
	if s.dispatcher != nil {
		v.Stats = s.dispatcher.Stats()
	}
	if s.portfolio != nil {
		if _, ok := s.portfolio.Snapshot(); ok {
			at := s.portfolio.UpdatedAt()
			v.Portfolio = &at
		}
	}
	return v
}

// redraw re-renders the full series after every accepted point.
func redraw(r interfaces.Renderer, points interfaces.PointSource) func(context.Context, types.DataPoint) {
	return func(ctx context.Context, _ types.DataPoint) {
		if err := r.Render(ctx, points.Snapshot()); err != nil {
			logger.ErrorWithErr(ctx, "Chart render failed", err)
		}
	}
}

func (s *Session) recordStatus(st types.Status) {
	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()
}

func (s *Session) signalUnauthenticated() {
	select {
	case s.unauth <- struct{}{}:
	default:
	}
}
