package socket

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/tickerctl/internal/protocol/hub"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// connection is the handle for one live hub connection. It is replaced, never
// reused, on reconnect.
type connection struct {
	id      string
	conn    hub.Conn
	opened  time.Time
	retired atomic.Bool
}

// supervisor opens connections and turns unplanned terminations into
// Reconnect commands. It never touches session state.
type supervisor struct {
	dialer  hub.Dialer
	target  hub.Target
	timeout time.Duration
	queue   *commandQueue
	log     zerolog.Logger

	onPush  func(*connection, hub.Push)
	onError func(*connection, error)
}

// open dials one connection. On failure a Reconnect is already queued when
// it returns.
func (s *supervisor) open(ctx context.Context) (*connection, error) {
	c := &connection{id: uuid.NewString()}
	hooks := hub.Hooks{
		OnPush: func(p hub.Push) {
			if c.retired.Load() {
				return
			}
			s.onPush(c, p)
		},
		OnResponse: func(resp hub.Response) {
			if err := s.queue.push(resolve(c.id, resp)); err != nil {
				s.log.Debug().Str("conn_id", c.id).Int("index", resp.Index).Msg("socket.supervisor.response_after_close")
			}
		},
		OnError: func(err error) {
			if c.retired.Load() {
				return
			}
			s.onError(c, err)
		},
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	conn, err := s.dialer.Dial(dialCtx, s.target, hooks)
	if err != nil {
		s.log.Warn().Err(err).Str("url", s.target.URL).Msg("socket.supervisor.dial_failed")
		if perr := s.queue.push(Reconnect("", fmt.Sprintf("connect failed: %v", err))); perr != nil {
			s.log.Debug().Err(perr).Msg("socket.supervisor.reconnect_not_queued")
		}
		return nil, err
	}
	c.conn = conn
	c.opened = time.Now()
	go s.watch(c)
	return c, nil
}

func (s *supervisor) watch(c *connection) {
	err := c.conn.Wait()
	if c.retired.Load() {
		return
	}
	reason := "connection terminated"
	var ce *hub.CloseError
	switch {
	case errors.As(err, &ce):
		if ce.Local {
			return
		}
		reason = hub.DescribeClose(ce.Code, ce.Reason)
	case err != nil:
		reason = err.Error()
	}
	s.log.Warn().
		Str("conn_id", c.id).
		Str("reason", reason).
		Dur("uptime", time.Since(c.opened)).
		Msg("socket.supervisor.closed")
	if perr := s.queue.push(Reconnect(c.id, reason)); perr != nil {
		s.log.Debug().Err(perr).Msg("socket.supervisor.reconnect_not_queued")
	}
}

// retire marks c intentional-closed before closing it so the watcher stays
// quiet and straggling pushes are dropped.
func (s *supervisor) retire(c *connection) {
	if c == nil {
		return
	}
	c.retired.Store(true)
	if err := c.conn.Close(); err != nil {
		s.log.Debug().Err(err).Str("conn_id", c.id).Msg("socket.supervisor.close_failed")
	}
}
