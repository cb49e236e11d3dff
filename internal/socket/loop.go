package socket

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/danmuck/tickerctl/internal/auth"
	"github.com/danmuck/tickerctl/internal/observability"
	"github.com/danmuck/tickerctl/internal/protocol"
	"github.com/danmuck/tickerctl/internal/protocol/codec"
	"github.com/danmuck/tickerctl/internal/protocol/hub"
	"github.com/danmuck/tickerctl/internal/protocol/session"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// controlLoop applies commands one at a time. Every field below the queue is
// session state and is only touched from run.
type controlLoop struct {
	cfg     session.Config
	queue   *commandQueue
	super   *supervisor
	limiter *rate.Limiter
	rng     *rand.Rand
	log     zerolog.Logger
	trace   func(Command)

	// ctx ends with the loop; interrupt also ends on Disconnect.
	ctx       context.Context
	interrupt context.Context

	public  *lane[codec.Message]
	private *lane[codec.Message]
	errs    *lane[error]

	publish func(Status)
	finish  func(error)

	conn         *connection
	registry     *session.InvokeRegistry
	auth         *auth.Machine
	creds        *auth.Credentials
	deferred     []Command
	attempts     int
	lastResponse int
	lastErr      error
	stopped      bool
	terminal     error
}

func (l *controlLoop) run() {
	defer l.shutdown()
	for !l.stopped {
		cmd, ok := l.queue.pop()
		if !ok {
			return
		}
		if l.trace != nil {
			l.trace(cmd)
		}
		observability.RecordCommand(cmd.Kind.String())
		l.apply(cmd)
		l.publishStatus()
	}
}

func (l *controlLoop) apply(cmd Command) {
	var err error
	switch cmd.Kind {
	case CommandConnect:
		l.applyConnect()
	case CommandSubscribe:
		err = l.applySubscribe(cmd)
	case CommandAuthenticate:
		err = l.applyAuthenticate(cmd)
	case CommandReconnect:
		l.applyReconnect(cmd)
	case CommandClose:
		l.applyClose()
	case commandResolve:
		l.applyResolve(cmd)
	default:
		l.log.Warn().Uint8("kind", uint8(cmd.Kind)).Msg("socket.loop.unknown_command")
	}
	if err == nil {
		return
	}
	if l.interrupt.Err() != nil {
		l.log.Debug().Err(err).Str("command", cmd.Kind.String()).Msg("socket.loop.skipped_while_closing")
		return
	}
	l.log.Warn().Err(err).Str("command", cmd.Kind.String()).Msg("socket.loop.command_failed")
	if perr := l.queue.push(Reconnect(l.connID(), err.Error())); perr != nil {
		l.log.Debug().Err(perr).Msg("socket.loop.reconnect_not_queued")
	}
}

func (l *controlLoop) applyConnect() {
	if l.conn != nil {
		l.log.Debug().Str("conn_id", l.conn.id).Msg("socket.loop.connect_ignored")
		return
	}
	c, err := l.super.open(l.interrupt)
	if err != nil {
		l.lastErr = err
		return
	}
	l.conn = c
	l.registry.Clear()
	l.lastResponse = -1
	l.attempts = 0
	observability.SetConnected(true)
	l.log.Info().Str("conn_id", c.id).Str("url", l.cfg.URL).Str("hub", l.cfg.Hub).Msg("socket.loop.connected")

	deferred := l.deferred
	l.deferred = nil
	for _, cmd := range deferred {
		if err := l.queue.push(cmd); err != nil {
			return
		}
	}
}

func (l *controlLoop) applySubscribe(cmd Command) error {
	if l.conn == nil {
		l.deferred = append(l.deferred, cmd)
		l.log.Debug().Str("method", cmd.Method).Msg("socket.loop.subscribe_deferred")
		return nil
	}
	return l.invoke(cmd.Method, cmd.Args)
}

func (l *controlLoop) applyAuthenticate(cmd Command) error {
	creds := cmd.Credentials
	if err := creds.Validate(); err != nil {
		l.report(err)
		return nil
	}
	l.creds = &creds
	if l.conn == nil {
		l.deferred = append(l.deferred, cmd)
		return nil
	}
	inv, err := l.auth.Begin(creds)
	if err != nil {
		l.report(err)
		return nil
	}
	l.log.Info().Str("credentials", creds.String()).Msg("socket.loop.auth_begin")
	return l.invoke(inv.Method, inv.Args)
}

// invoke records the call and sends it. The record is kept even when the send
// fails so the following reconnect replays it.
func (l *controlLoop) invoke(method string, args []any) error {
	if err := l.limiter.Wait(l.ctx); err != nil {
		return err
	}
	index := l.registry.Record(method, tickerOf(method, args))
	got, err := l.conn.conn.Invoke(method, args...)
	observability.RecordInvoke(method, err == nil)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", method, err)
	}
	if got != index {
		l.log.Warn().Int("recorded", index).Int("transport", got).Str("method", method).Msg("socket.loop.invoke_index_mismatch")
	}
	l.log.Debug().Int("index", index).Str("method", method).Msg("socket.loop.invoked")
	return nil
}

func (l *controlLoop) applyReconnect(cmd Command) {
	if cmd.ConnID != l.connID() {
		l.log.Debug().Str("conn_id", cmd.ConnID).Str("reason", cmd.Reason).Msg("socket.loop.reconnect_stale")
		return
	}
	observability.RecordReconnect()
	l.attempts++
	l.report(fmt.Errorf("%w: %s", protocol.ErrTransport, cmd.Reason))

	if limit := l.cfg.MaxReconnectAttempts; limit > 0 && l.attempts > limit {
		l.fail(fmt.Errorf("%w: %d attempts, last: %s", ErrRetriesExhausted, limit, cmd.Reason))
		return
	}

	replay := l.replayPlan()
	l.super.retire(l.conn)
	l.conn = nil
	l.registry.Clear()
	l.lastResponse = -1
	l.deferred = nil
	l.auth.Reset()
	observability.SetConnected(false)

	delay := l.cfg.Backoff.Delay(l.attempts, l.rng)
	l.log.Warn().
		Str("reason", cmd.Reason).
		Int("attempt", l.attempts).
		Dur("delay", delay).
		Int("replay", len(replay)).
		Msg("socket.loop.reconnect")
	if !l.sleep(delay) {
		return
	}

	next := make([]Command, 0, len(replay)+2)
	next = append(next, Connect())
	next = append(next, replay...)
	if l.creds != nil {
		next = append(next, Authenticate(*l.creds))
	}
	for _, c := range next {
		if err := l.queue.push(c); err != nil {
			return
		}
	}
}

// replayPlan rebuilds the subscriptions of the current session. The auth
// steps are left out; they are redone from the stored credentials.
func (l *controlLoop) replayPlan() []Command {
	var plan []Command
	for _, rec := range l.registry.Snapshot() {
		if protocol.IsAuthMethod(rec.Method) {
			continue
		}
		plan = append(plan, Subscribe(rec.Method, argsOf(rec)...))
	}
	for _, cmd := range l.deferred {
		if cmd.Kind == CommandAuthenticate || protocol.IsAuthMethod(cmd.Method) {
			continue
		}
		plan = append(plan, cmd)
	}
	return plan
}

func (l *controlLoop) applyClose() {
	l.stopped = true
	if dropped := l.queue.close(); len(dropped) > 0 {
		l.log.Debug().Int("dropped", len(dropped)).Msg("socket.loop.close_dropped_commands")
	}
	l.super.retire(l.conn)
	l.conn = nil
	observability.SetConnected(false)
	l.log.Info().Msg("socket.loop.closed")
}

func (l *controlLoop) fail(err error) {
	l.report(err)
	l.terminal = err
	l.stopped = true
	l.queue.close()
	l.super.retire(l.conn)
	l.conn = nil
	observability.SetConnected(false)
	l.log.Error().Err(err).Msg("socket.loop.failed")
}

func (l *controlLoop) applyResolve(cmd Command) {
	resp := cmd.response
	if l.conn == nil || cmd.ConnID != l.conn.id {
		l.dropResponse("stale", resp.Index)
		return
	}
	if resp.Index <= l.lastResponse {
		l.dropResponse("out_of_order", resp.Index)
		return
	}
	rec, err := l.registry.Lookup(resp.Index)
	if err != nil {
		l.dropResponse("unknown_index", resp.Index)
		return
	}
	l.lastResponse = resp.Index

	if resp.Error != "" {
		l.report(fmt.Errorf("%w: %s(%s): %s", ErrInvokeRejected, rec.Method, rec.Ticker, resp.Error))
		return
	}
	msg, ok, err := codec.DecodeResponse(rec, resp.Result)
	if err != nil {
		observability.RecordDecodeError("response")
		l.log.Warn().Err(err).Int("index", rec.Index).Str("method", rec.Method).Msg("socket.loop.response_decode_failed")
		return
	}
	if !ok {
		l.log.Debug().Int("index", rec.Index).Str("method", rec.Method).Msg("socket.loop.ack")
		return
	}
	observability.RecordMessage(msg.Kind.String())

	switch msg.Kind {
	case codec.KindAuthChallenge:
		inv, err := l.auth.Challenge(msg.Challenge)
		if err != nil {
			l.report(err)
			return
		}
		if err := l.queue.push(Subscribe(inv.Method, inv.Args...)); err != nil {
			l.log.Debug().Err(err).Msg("socket.loop.auth_not_queued")
		}
	case codec.KindAuthAck:
		if msg.Accepted {
			l.log.Info().Msg("socket.loop.auth_accepted")
		} else {
			l.log.Warn().Msg("socket.loop.auth_not_accepted")
		}
	default:
		l.public.push(msg)
	}
}

func (l *controlLoop) dropResponse(reason string, index int) {
	observability.RecordDroppedResponse(reason)
	l.log.Warn().Str("reason", reason).Int("index", index).Int("last", l.lastResponse).Msg("socket.loop.response_dropped")
}

// handlePush runs on the connection's read goroutine.
func (l *controlLoop) handlePush(c *connection, p hub.Push) {
	if !protocol.IsKnownChannel(p.Method) {
		l.log.Debug().Str("channel", p.Method).Msg("socket.push.ignored")
		return
	}
	if len(p.Args) == 0 {
		observability.RecordDecodeError("push")
		l.log.Warn().Str("channel", p.Method).Msg("socket.push.missing_payload")
		return
	}
	msg, err := codec.DecodePush(p.Method, p.Args[0])
	if err != nil {
		observability.RecordDecodeError("push")
		l.log.Warn().Err(err).Str("conn_id", c.id).Str("channel", p.Method).Msg("socket.push.decode_failed")
		return
	}
	observability.RecordMessage(msg.Kind.String())
	if msg.Private() {
		l.private.push(msg)
		return
	}
	l.public.push(msg)
}

// handleTransportError runs on the connection's read goroutine.
func (l *controlLoop) handleTransportError(c *connection, err error) {
	if errors.Is(err, protocol.ErrDecode) {
		observability.RecordDecodeError("frame")
		l.log.Warn().Err(err).Str("conn_id", c.id).Msg("socket.transport.frame_dropped")
		return
	}
	l.errs.push(err)
}

func (l *controlLoop) report(err error) {
	l.lastErr = err
	l.log.Warn().Err(err).Msg("socket.loop.error")
	l.errs.push(err)
}

func (l *controlLoop) sleep(d time.Duration) bool {
	if d <= 0 {
		return l.interrupt.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-l.interrupt.Done():
		return false
	}
}

func (l *controlLoop) connID() string {
	if l.conn == nil {
		return ""
	}
	return l.conn.id
}

func (l *controlLoop) shutdown() {
	l.stopped = true
	l.queue.close()
	l.super.retire(l.conn)
	l.conn = nil
	l.public.close()
	l.private.close()
	l.errs.close()
	l.public.wait()
	l.private.wait()
	l.errs.wait()
	l.publishStatus()
	l.finish(l.terminal)
}

// tickerOf picks the market argument of per-ticker methods.
func tickerOf(method string, args []any) string {
	switch method {
	case protocol.MethodSubscribeToExchangeDeltas, protocol.MethodQueryExchangeState:
		if len(args) > 0 {
			if s, ok := args[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func argsOf(rec protocol.InvokeRecord) []any {
	if rec.Ticker == "" {
		return nil
	}
	return []any{rec.Ticker}
}
