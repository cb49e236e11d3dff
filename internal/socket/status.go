package socket

import "time"

// Connection states reported by Status.
const (
	StateConnecting = "connecting"
	StateConnected  = "connected"
	StateClosed     = "closed"
	StateFailed     = "failed"
)

// Status is a point-in-time view of the session, published by the control
// loop after every command.
type Status struct {
	State             string    `json:"state"`
	ConnectionID      string    `json:"connection_id,omitempty"`
	URL               string    `json:"url"`
	Hub               string    `json:"hub"`
	Invokes           int       `json:"invokes"`
	Deferred          int       `json:"deferred"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	Auth              string    `json:"auth"`
	LastError         string    `json:"last_error,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (l *controlLoop) publishStatus() {
	st := Status{
		State:             StateConnecting,
		URL:               l.cfg.URL,
		Hub:               l.cfg.Hub,
		Invokes:           l.registry.Len(),
		Deferred:          len(l.deferred),
		ReconnectAttempts: l.attempts,
		Auth:              l.auth.State().String(),
		UpdatedAt:         time.Now(),
	}
	switch {
	case l.terminal != nil:
		st.State = StateFailed
	case l.stopped:
		st.State = StateClosed
	case l.conn != nil:
		st.State = StateConnected
		st.ConnectionID = l.conn.id
	}
	if l.lastErr != nil {
		st.LastError = l.lastErr.Error()
	}
	l.publish(st)
}
