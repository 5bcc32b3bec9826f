package types

import (
	"encoding/json"
	"time"
)

// DataPoint is one observation in arrival order. Sequence is assigned by the
// rolling buffer, never by the server.
type DataPoint struct {
	Sequence int64   `json:"sequence"`
	Value    float64 `json:"value"`
}

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Retrying
	AuthFailed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Retrying:
		return "retrying"
	case AuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// User-visible notices carried by Status.
const (
	NoticeRetrying        = "connection lost, retrying"
	NoticeUnauthenticated = "unauthenticated"
	NoticeConnectionError = "connection error"
)

// Status is what the UI layer renders for the connection.
type Status struct {
	State  ConnectionState `json:"state"`
	Notice string          `json:"notice,omitempty"`
	Err    string          `json:"error,omitempty"`
	Since  time.Time       `json:"since"`
	// RetryAt is set while a reconnection is pending.
	RetryAt *time.Time `json:"retry_at,omitempty"`
}

type EventKind string

const (
	EventMarketData EventKind = "marketData"
	EventPortfolio  EventKind = "portfolio"
)

// PortfolioSnapshot is passed through unchanged; no schema is imposed.
type PortfolioSnapshot json.RawMessage

func (p PortfolioSnapshot) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}
