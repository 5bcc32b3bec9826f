package stream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"livedash/internal/credential"
	"livedash/internal/types"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

const (
	testRetry = 30 * time.Millisecond
	waitLimit = 2 * time.Second
)

// backend is a fake streaming server. Each accepted connection is handed
// to the test through conns.
type backend struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	tokens   chan string
	upgrader websocket.Upgrader
	reject   int
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{
		conns:  make(chan *websocket.Conn, 8),
		tokens: make(chan string, 8),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		if b.reject != 0 {
			http.Error(w, "rejected", b.reject)
			return
		}
		b.tokens <- r.URL.Query().Get("token")
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- conn
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) wsBase() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *backend) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-b.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(waitLimit):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

func closeWith(t *testing.T, c *websocket.Conn, code int) {
	t.Helper()
	msg := websocket.FormatCloseMessage(code, "bye")
	if err := c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("write close: %v", err)
	}
	c.Close()
}

// recorder collects everything the manager reports through its hooks.
type recorder struct {
	statuses chan types.Status
	frames   chan string
	unauth   chan struct{}
}

func attach(m *Manager) *recorder {
	r := &recorder{
		statuses: make(chan types.Status, 64),
		frames:   make(chan string, 64),
		unauth:   make(chan struct{}, 4),
	}
	m.OnStatus(func(s types.Status) {
		select {
		case r.statuses <- s:
		default:
		}
	})
	m.OnFrame(func(_ context.Context, raw []byte) { r.frames <- string(raw) })
	m.OnUnauthenticated(func() {
		select {
		case r.unauth <- struct{}{}:
		default:
		}
	})
	return r
}

func (r *recorder) waitState(t *testing.T, want types.ConnectionState) types.Status {
	t.Helper()
	deadline := time.After(waitLimit)
	for {
		select {
		case s := <-r.statuses:
			if s.State == want {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
			return types.Status{}
		}
	}
}

func newTestManager(base string, token string) (*Manager, *credential.Memory) {
	creds := credential.NewMemory(token)
	m := NewManager(Config{
		WSBase: base,
		Retry:  backoff.NewConstantBackOff(testRetry),
	}, creds)
	return m, creds
}

func TestStartWithoutTokenDialsNothing(t *testing.T) {
	b := newBackend(t)
	m, _ := newTestManager(b.wsBase(), "")

	h, err := m.Start(context.Background())
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Start err = %v, want ErrUnauthenticated", err)
	}
	if h != nil {
		t.Fatal("expected nil handle")
	}
	if m.Dials() != 0 {
		t.Fatalf("dials = %d, want 0", m.Dials())
	}
	if m.State() != types.AuthFailed {
		t.Fatalf("state = %s, want auth_failed", m.State())
	}
}

func TestConnectSendsTokenAndForwardsFrames(t *testing.T) {
	b := newBackend(t)
	m, _ := newTestManager(b.wsBase(), "tok en/1")
	rec := attach(m)

	h, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(h)

	if got := <-b.tokens; got != "tok en/1" {
		t.Fatalf("token = %q", got)
	}
	server := b.accept(t)
	rec.waitState(t, types.Connected)

	for _, msg := range []string{`{"event":"marketData","data":{"price":1}}`, `{"event":"portfolio","data":{}}`} {
		if err := server.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
		select {
		case got := <-rec.frames:
			if got != msg {
				t.Fatalf("frame = %q, want %q", got, msg)
			}
		case <-time.After(waitLimit):
			t.Fatal("frame not forwarded")
		}
	}
}

func TestPolicyViolationIsTerminal(t *testing.T) {
	b := newBackend(t)
	m, _ := newTestManager(b.wsBase(), "tok")
	rec := attach(m)

	h, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(h)

	server := b.accept(t)
	rec.waitState(t, types.Connected)
	closeWith(t, server, websocket.ClosePolicyViolation)

	s := rec.waitState(t, types.AuthFailed)
	if s.Notice != types.NoticeUnauthenticated {
		t.Fatalf("notice = %q", s.Notice)
	}
	select {
	case <-rec.unauth:
	case <-time.After(waitLimit):
		t.Fatal("unauthenticated hook not called")
	}
	select {
	case <-h.Done():
	case <-time.After(waitLimit):
		t.Fatal("loop did not exit")
	}

	time.Sleep(5 * testRetry)
	if m.Dials() != 1 {
		t.Fatalf("dials = %d, want 1", m.Dials())
	}
}

func TestServerCloseReleasesSocket(t *testing.T) {
	tests := []struct {
		name string
		code int
	}{
		{"going away", websocket.CloseGoingAway},
		{"policy violation", websocket.ClosePolicyViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t)
			m := NewManager(Config{
				WSBase: b.wsBase(),
				Retry:  backoff.NewConstantBackOff(time.Minute),
			}, credential.NewMemory("tok"))
			rec := attach(m)

			h, err := m.Start(context.Background())
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			defer m.Stop(h)

			server := b.accept(t)
			rec.waitState(t, types.Connected)

			msg := websocket.FormatCloseMessage(tt.code, "bye")
			if err := server.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
				t.Fatalf("write close: %v", err)
			}
			_ = server.SetReadDeadline(time.Now().Add(waitLimit))
			if _, _, err := server.ReadMessage(); !websocket.IsCloseError(err, tt.code) {
				t.Fatalf("close echo = %v, want code %d", err, tt.code)
			}

			raw := server.UnderlyingConn()
			_ = raw.SetReadDeadline(time.Now().Add(waitLimit))
			_, err = raw.Read(make([]byte, 1))
			var netErr net.Error
			if err == nil || (errors.As(err, &netErr) && netErr.Timeout()) {
				t.Fatalf("client kept the socket open: read err = %v", err)
			}
		})
	}
}

func TestAuthFailureCancelsLoopContext(t *testing.T) {
	b := newBackend(t)
	m, _ := newTestManager(b.wsBase(), "tok")
	rec := attach(m)

	h, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(h)

	server := b.accept(t)
	rec.waitState(t, types.Connected)
	closeWith(t, server, websocket.ClosePolicyViolation)

	select {
	case <-h.Done():
	case <-time.After(waitLimit):
		t.Fatal("loop did not exit after policy violation")
	}
	if h.ctx.Err() == nil {
		t.Fatal("loop context still live after the loop exited")
	}
}

func TestTransientCloseRetriesOnce(t *testing.T) {
	b := newBackend(t)
	m, _ := newTestManager(b.wsBase(), "tok")
	rec := attach(m)

	h, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(h)

	first := b.accept(t)
	rec.waitState(t, types.Connected)
	closeWith(t, first, websocket.CloseGoingAway)

	s := rec.waitState(t, types.Retrying)
	if s.Notice != types.NoticeRetrying {
		t.Fatalf("notice = %q", s.Notice)
	}
	if s.RetryAt == nil {
		t.Fatal("expected retry time")
	}

	b.accept(t)
	rec.waitState(t, types.Connected)
	time.Sleep(5 * testRetry)
	if m.Dials() != 2 {
		t.Fatalf("dials = %d, want 2", m.Dials())
	}
}

func TestRetryRereadsToken(t *testing.T) {
	b := newBackend(t)
	m, creds := newTestManager(b.wsBase(), "tok")
	rec := attach(m)

	h, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(h)

	server := b.accept(t)
	rec.waitState(t, types.Connected)
	if err := creds.Clear(); err != nil {
		t.Fatal(err)
	}
	server.Close()

	rec.waitState(t, types.AuthFailed)
	select {
	case <-rec.unauth:
	case <-time.After(waitLimit):
		t.Fatal("unauthenticated hook not called")
	}
	if m.Dials() != 1 {
		t.Fatalf("dials = %d, want 1", m.Dials())
	}
}

func TestStopCancelsPendingRetry(t *testing.T) {
	const delay = 300 * time.Millisecond
	b := newBackend(t)
	creds := credential.NewMemory("tok")
	m := NewManager(Config{WSBase: b.wsBase(), Retry: backoff.NewConstantBackOff(delay)}, creds)
	rec := attach(m)

	h, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	server := b.accept(t)
	rec.waitState(t, types.Connected)
	closeWith(t, server, websocket.CloseInternalServerErr)
	rec.waitState(t, types.Retrying)

	m.Stop(h)
	m.Stop(h)

	time.Sleep(2 * delay)
	if m.Dials() != 1 {
		t.Fatalf("dials = %d, want 1", m.Dials())
	}
	if m.State() != types.Disconnected {
		t.Fatalf("state = %s, want disconnected", m.State())
	}
}

func TestStopClosesLiveConnection(t *testing.T) {
	b := newBackend(t)
	m, _ := newTestManager(b.wsBase(), "tok")
	rec := attach(m)

	h, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	server := b.accept(t)
	rec.waitState(t, types.Connected)

	m.Stop(h)

	_ = server.SetReadDeadline(time.Now().Add(waitLimit))
	_, _, err = server.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("server read err = %v, want normal closure", err)
	}
	m.Stop(nil)
}

func TestStartTwice(t *testing.T) {
	b := newBackend(t)
	m, _ := newTestManager(b.wsBase(), "tok")

	h, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(h)

	if _, err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v", err)
	}
}

func TestDialFailureRetries(t *testing.T) {
	b := newBackend(t)
	base := b.wsBase()
	b.srv.Close()

	m, _ := newTestManager(base, "tok")
	rec := attach(m)

	h, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(h)

	rec.waitState(t, types.Retrying)
	rec.waitState(t, types.Retrying)
	if m.Dials() < 2 {
		t.Fatalf("dials = %d, want at least 2", m.Dials())
	}
}

func TestHandshakeRejectionIsTerminal(t *testing.T) {
	b := newBackend(t)
	b.reject = http.StatusForbidden
	m, _ := newTestManager(b.wsBase(), "tok")
	rec := attach(m)

	h, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(h)

	rec.waitState(t, types.AuthFailed)
	<-h.Done()
	if m.Dials() != 1 {
		t.Fatalf("dials = %d, want 1", m.Dials())
	}
}

func TestSend(t *testing.T) {
	b := newBackend(t)
	m, _ := newTestManager(b.wsBase(), "tok")
	rec := attach(m)

	ctx := context.Background()
	if err := m.Send(ctx, map[string]string{"op": "ping"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send before start err = %v", err)
	}

	h, err := m.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(h)
	server := b.accept(t)
	rec.waitState(t, types.Connected)

	if err := m.Send(ctx, map[string]string{"op": "subscribe"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_ = server.SetReadDeadline(time.Now().Add(waitLimit))
	_, msg, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(msg) != `{"op":"subscribe"}` {
		t.Fatalf("message = %s", msg)
	}
}

func TestStreamURL(t *testing.T) {
	target, redacted, err := streamURL("ws://localhost:8000/", "a&b")
	if err != nil {
		t.Fatal(err)
	}
	if target != "ws://localhost:8000/ws?token=a%26b" {
		t.Errorf("target = %s", target)
	}
	if strings.Contains(redacted, "a%26b") {
		t.Errorf("redacted url leaks token: %s", redacted)
	}
	if _, _, err := streamURL("http://localhost", "t"); err == nil {
		t.Error("expected scheme error")
	}
}

func TestCloseCode(t *testing.T) {
	if got := closeCode(&websocket.CloseError{Code: websocket.ClosePolicyViolation}); got != 1008 {
		t.Errorf("close code = %d", got)
	}
	if got := closeCode(errors.New("eof")); got != websocket.CloseAbnormalClosure {
		t.Errorf("close code = %d", got)
	}
}
