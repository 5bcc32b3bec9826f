package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"livedash/internal/interfaces"
	"livedash/internal/logger"
	"livedash/internal/trace"
	"livedash/internal/types"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultRetryDelay is the fixed pause before each reconnection attempt.
	DefaultRetryDelay = 5 * time.Second

	streamPath = "/ws"

	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrAlreadyRunning  = errors.New("connection manager already running")
	ErrNotConnected    = errors.New("not connected")
)

// Dialer opens the streaming connection. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Config struct {
	// WSBase is the scheme and host of the backend, e.g. ws://localhost:8000.
	WSBase string
	// Retry yields the delay before each reconnection. Defaults to a
	// constant DefaultRetryDelay with no attempt limit.
	Retry  backoff.BackOff
	Dialer Dialer
}

// Manager owns at most one streaming connection. All state transitions,
// frame delivery and hook calls happen on a single goroutine per Handle.
// Hooks must not block and must not call Stop.
type Manager struct {
	wsBase string
	creds  interfaces.CredentialAccessor
	dialer Dialer
	retry  backoff.BackOff

	hooksMu  sync.RWMutex
	onFrame  func(ctx context.Context, raw []byte)
	onStatus func(types.Status)
	onUnauth func()

	mu     sync.Mutex
	status types.Status
	handle *Handle

	dials atomic.Int64
}

// Handle identifies one started session of the manager.
type Handle struct {
	id       string
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
	sends    chan sendRequest
}

func (h *Handle) ID() string {
	return h.id
}

// Done is closed once the connection loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

type sendRequest struct {
	payload []byte
	result  chan error
}

type eventKind int

const (
	eventFrame eventKind = iota
	eventClosed
)

type connEvent struct {
	kind eventKind
	gen  int
	data []byte
	err  error
}

func NewManager(cfg Config, creds interfaces.CredentialAccessor) *Manager {
	m := &Manager{
		wsBase: cfg.WSBase,
		creds:  creds,
		dialer: cfg.Dialer,
		retry:  cfg.Retry,
		status: types.Status{State: types.Disconnected, Since: time.Now()},
	}
	if m.dialer == nil {
		m.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if m.retry == nil {
		m.retry = backoff.NewConstantBackOff(DefaultRetryDelay)
	}
	return m
}

// OnFrame registers the receiver of raw inbound frames.
func (m *Manager) OnFrame(fn func(ctx context.Context, raw []byte)) {
	m.hooksMu.Lock()
	m.onFrame = fn
	m.hooksMu.Unlock()
}

// OnStatus registers a callback for every status change.
func (m *Manager) OnStatus(fn func(types.Status)) {
	m.hooksMu.Lock()
	m.onStatus = fn
	m.hooksMu.Unlock()
}

// OnUnauthenticated registers a callback for authorization failures found
// after Start returned. The loop has already exited when it runs.
func (m *Manager) OnUnauthenticated(fn func()) {
	m.hooksMu.Lock()
	m.onUnauth = fn
	m.hooksMu.Unlock()
}

func (m *Manager) Status() types.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) State() types.ConnectionState {
	return m.Status().State
}

// Dials reports how many connection attempts have been made.
func (m *Manager) Dials() int64 {
	return m.dials.Load()
}

// Start opens the connection in the background. Without a token it returns
// ErrUnauthenticated and dials nothing.
func (m *Manager) Start(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	if m.handle != nil {
		m.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	if _, ok := m.creds.Token(); !ok {
		m.mu.Unlock()
		m.setStatus(ctx, types.AuthFailed, types.NoticeUnauthenticated, ErrUnauthenticated)
		return nil, ErrUnauthenticated
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:     uuid.NewString(),
		ctx:    loopCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		sends:  make(chan sendRequest),
	}
	m.handle = h
	m.mu.Unlock()

	m.retry.Reset()
	go m.run(loopCtx, h)
	return h, nil
}

// Stop tears the session down: a pending reconnect is cancelled and a live
// connection is closed. It is safe to call repeatedly and with nil.
func (m *Manager) Stop(h *Handle) {
	if h == nil {
		return
	}
	h.stopOnce.Do(h.cancel)
	<-h.done
}

// Send writes v as a JSON text message on the live connection. A failed
// write is reported as a connection error but does not close the connection.
func (m *Manager) Send(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	m.mu.Lock()
	h := m.handle
	m.mu.Unlock()
	if h == nil {
		return ErrNotConnected
	}

	req := sendRequest{payload: payload, result: make(chan error, 1)}
	select {
	case h.sends <- req:
	case <-h.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context, h *Handle) {
	ctx = logger.WithSession(ctx, h.id)
	unauthenticated := m.loop(ctx, h)
	h.cancel()

	m.mu.Lock()
	if m.handle == h {
		m.handle = nil
	}
	m.mu.Unlock()
	close(h.done)

	if unauthenticated {
		m.hooksMu.RLock()
		fn := m.onUnauth
		m.hooksMu.RUnlock()
		if fn != nil {
			fn()
		}
	}
}

// loop is the manager's event loop. It returns true when the session ended
// because of an authorization failure.
func (m *Manager) loop(ctx context.Context, h *Handle) bool {
	var (
		conn   *websocket.Conn
		gen    int
		timer  *time.Timer
		retryC <-chan time.Time
	)
	events := make(chan connEvent, 64)
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	scheduleRetry := func(cause error) {
		delay := m.retry.NextBackOff()
		if delay < 0 {
			delay = DefaultRetryDelay
		}
		timer = time.NewTimer(delay)
		retryC = timer.C
		m.setRetrying(ctx, cause, time.Now().Add(delay))
	}

	// connect runs the full start procedure. It returns false when the
	// session must end with an authorization failure.
	connect := func() bool {
		token, ok := m.creds.Token()
		if !ok {
			m.setStatus(ctx, types.AuthFailed, types.NoticeUnauthenticated, ErrUnauthenticated)
			return false
		}

		m.setStatus(ctx, types.Connecting, "", nil)
		c, err := m.dial(ctx, token)
		switch {
		case err == nil:
			gen++
			conn = c
			m.retry.Reset()
			m.setStatus(ctx, types.Connected, "", nil)
			go readPump(ctx, c, gen, events)
		case ctx.Err() != nil:
		case errors.Is(err, ErrUnauthenticated):
			m.setStatus(ctx, types.AuthFailed, types.NoticeUnauthenticated, err)
			return false
		default:
			scheduleRetry(err)
		}
		return true
	}

	teardown := func() {
		if timer != nil {
			timer.Stop()
		}
		if conn != nil {
			closeConn(conn)
			conn = nil
		}
	}

	if !connect() {
		return true
	}

	for {
		select {
		case <-ctx.Done():
			teardown()
			m.setStatus(context.WithoutCancel(ctx), types.Disconnected, "", nil)
			return false

		case <-retryC:
			timer, retryC = nil, nil
			if !connect() {
				return true
			}

		case ev := <-events:
			if ev.gen != gen {
				continue
			}
			switch ev.kind {
			case eventFrame:
				m.deliver(ctx, ev.data)
			case eventClosed:
				_ = conn.Close()
				conn = nil
				if code := closeCode(ev.err); code == websocket.ClosePolicyViolation {
					m.setStatus(ctx, types.AuthFailed, types.NoticeUnauthenticated, ev.err)
					return true
				}
				scheduleRetry(ev.err)
			}

		case req := <-h.sends:
			if conn == nil {
				req.result <- ErrNotConnected
				continue
			}
			err := m.write(conn, req.payload)
			if err != nil {
				m.connectionError(ctx, err)
			}
			req.result <- err

		case <-ping.C:
			if conn == nil {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				m.connectionError(ctx, err)
			}
		}
	}
}

func (m *Manager) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	ctx, span := trace.StartSpan(ctx, "stream.Dial")
	defer span.End()

	target, redacted, err := streamURL(m.wsBase, token)
	if err != nil {
		return nil, err
	}

	attempt := m.dials.Add(1)
	span.SetAttributes(
		attribute.String("stream.url", redacted),
		attribute.Int64("stream.attempt", attempt),
	)
	logger.Info(ctx, "Opening stream", "url", redacted, "attempt", attempt)

	conn, resp, err := m.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			err = fmt.Errorf("%w: handshake rejected with HTTP %d", ErrUnauthenticated, resp.StatusCode)
		} else {
			err = fmt.Errorf("failed to open stream: %w", err)
		}
		logger.ErrorWithErr(ctx, "Stream dial failed", err, "url", redacted)
		return nil, err
	}
	return conn, nil
}

func (m *Manager) write(conn *websocket.Conn, payload []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (m *Manager) deliver(ctx context.Context, raw []byte) {
	m.hooksMu.RLock()
	fn := m.onFrame
	m.hooksMu.RUnlock()
	if fn != nil {
		fn(ctx, raw)
	}
}

func (m *Manager) setRetrying(ctx context.Context, cause error, at time.Time) {
	m.publish(ctx, types.Status{
		State:   types.Retrying,
		Notice:  types.NoticeRetrying,
		Err:     errString(cause),
		Since:   time.Now(),
		RetryAt: &at,
	})
}

// connectionError surfaces a non-fatal transport error without changing state.
func (m *Manager) connectionError(ctx context.Context, err error) {
	m.mu.Lock()
	state := m.status.State
	m.mu.Unlock()

	m.publish(ctx, types.Status{
		State:  state,
		Notice: types.NoticeConnectionError,
		Err:    errString(err),
		Since:  time.Now(),
	})
}

func (m *Manager) setStatus(ctx context.Context, state types.ConnectionState, notice string, err error) {
	m.publish(ctx, types.Status{
		State:  state,
		Notice: notice,
		Err:    errString(err),
		Since:  time.Now(),
	})
}

func (m *Manager) publish(ctx context.Context, s types.Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()

	fields := []any{}
	if s.Err != "" {
		fields = append(fields, "error", s.Err)
	}
	logger.Connection(ctx, s.State.String(), s.Notice, fields...)

	m.hooksMu.RLock()
	fn := m.onStatus
	m.hooksMu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

// readPump forwards frames to the loop until the connection fails, then
// reports the terminating error once.
func readPump(ctx context.Context, conn *websocket.Conn, gen int, events chan<- connEvent) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case events <- connEvent{kind: eventClosed, gen: gen, err: err}:
			case <-ctx.Done():
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		select {
		case events <- connEvent{kind: eventFrame, gen: gen, data: message}:
		case <-ctx.Done():
			return
		}
	}
}

func closeConn(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client stopped")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// closeCode extracts the close code of a terminated connection. Errors that
// carry no close frame count as an abnormal closure.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

// streamURL builds <ws-base>/ws?token=<token> plus a copy safe to log.
func streamURL(base, token string) (string, string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", "", fmt.Errorf("invalid stream base %q: %w", base, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", "", fmt.Errorf("invalid stream base %q: scheme must be ws or wss", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + streamPath

	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	target := u.String()

	q.Set("token", "REDACTED")
	u.RawQuery = q.Encode()
	return target, u.String(), nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
