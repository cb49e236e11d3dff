// Package hubtest provides an in-memory hub.Dialer for driving the socket
// without a network.
package hubtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/tickerctl/internal/protocol"
	"github.com/danmuck/tickerctl/internal/protocol/codec"
	"github.com/danmuck/tickerctl/internal/protocol/hub"
	segjson "github.com/segmentio/encoding/json"
)

const DefaultWait = 2 * time.Second

// Dialer hands out Conns and can be told to fail upcoming dials.
type Dialer struct {
	mu       sync.Mutex
	attempts int
	failures []error
	targets  []hub.Target
	conns    []*Conn
	dialed   chan *Conn
}

func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Conn, 64)}
}

// FailNext makes the next dial return err. Calls queue up.
func (d *Dialer) FailNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, err)
}

func (d *Dialer) Dial(ctx context.Context, target hub.Target, hooks hub.Hooks) (hub.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.attempts++
	d.targets = append(d.targets, target)
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", protocol.ErrTransport, err)
	}
	c := newConn(hooks)
	d.conns = append(d.conns, c)
	d.mu.Unlock()

	d.dialed <- c
	return c, nil
}

// Attempts counts every dial, failed or not.
func (d *Dialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func (d *Dialer) Targets() []hub.Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]hub.Target(nil), d.targets...)
}

func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Next waits for the next successful dial.
func (d *Dialer) Next(t testing.TB) *Conn {
	t.Helper()
	select {
	case c := <-d.dialed:
		return c
	case <-time.After(DefaultWait):
		t.Fatalf("hubtest: no dial within %s", DefaultWait)
		return nil
	}
}

// NoDial fails the test if a connection is opened within wait.
func (d *Dialer) NoDial(t testing.TB, wait time.Duration) {
	t.Helper()
	select {
	case <-d.dialed:
		t.Fatalf("hubtest: unexpected dial")
	case <-time.After(wait):
	}
}

// Conn records invocations and lets tests play the server side.
type Conn struct {
	hooks hub.Hooks

	mu          sync.Mutex
	invocations []protocol.Invocation
	nextID      int
	invokeErr   error
	invoked     chan protocol.Invocation

	closeOnce sync.Once
	done      chan struct{}
	err       *hub.CloseError
}

func newConn(hooks hub.Hooks) *Conn {
	return &Conn{
		hooks:   hooks,
		invoked: make(chan protocol.Invocation, 256),
		done:    make(chan struct{}),
	}
}

func (c *Conn) Invoke(method string, args ...any) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return -1, fmt.Errorf("%w: invoke %s on closed connection", protocol.ErrTransport, method)
	default:
	}
	if c.invokeErr != nil {
		return -1, fmt.Errorf("%w: %w", protocol.ErrTransport, c.invokeErr)
	}
	inv := protocol.Invocation{Method: method, Args: append([]any(nil), args...)}
	c.invocations = append(c.invocations, inv)
	id := c.nextID
	c.nextID++
	c.invoked <- inv
	return id, nil
}

func (c *Conn) Close() error {
	c.finish(&hub.CloseError{Code: hub.CloseNormal, Local: true})
	return nil
}

func (c *Conn) Wait() error {
	<-c.done
	return c.err
}

// Drop terminates the connection as if the server or network did.
func (c *Conn) Drop(code int, reason string) {
	c.finish(&hub.CloseError{Code: code, Reason: reason})
}

func (c *Conn) finish(ce *hub.CloseError) {
	c.closeOnce.Do(func() {
		c.err = ce
		close(c.done)
	})
}

// ClosedLocally reports whether the client closed this connection.
func (c *Conn) ClosedLocally() bool {
	select {
	case <-c.done:
		return c.err.Local
	default:
		return false
	}
}

// FailInvokes makes every later Invoke fail with err.
func (c *Conn) FailInvokes(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		err = errors.New("hubtest: invoke refused")
	}
	c.invokeErr = err
}

func (c *Conn) Invocations() []protocol.Invocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Invocation(nil), c.invocations...)
}

// NextInvocation waits for the next invoke sent on this connection.
func (c *Conn) NextInvocation(t testing.TB) protocol.Invocation {
	t.Helper()
	select {
	case inv := <-c.invoked:
		return inv
	case <-time.After(DefaultWait):
		t.Fatalf("hubtest: no invocation within %s", DefaultWait)
		return protocol.Invocation{}
	}
}

// NoInvocation fails the test if an invoke arrives within wait.
func (c *Conn) NoInvocation(t testing.TB, wait time.Duration) {
	t.Helper()
	select {
	case inv := <-c.invoked:
		t.Fatalf("hubtest: unexpected invocation %s %v", inv.Method, inv.Args)
	case <-time.After(wait):
	}
}

// Push delivers payload on channel the way the hub does: deflated,
// base64 encoded and carried as a JSON string argument.
func (c *Conn) Push(t testing.TB, channel string, payload any) {
	t.Helper()
	encoded, err := codec.Encode(payload, codec.FramingRaw)
	if err != nil {
		t.Fatalf("hubtest: encode push: %v", err)
	}
	arg, _ := segjson.Marshal(encoded)
	c.PushRaw(channel, arg)
}

func (c *Conn) PushRaw(channel string, args ...json.RawMessage) {
	if c.hooks.OnPush != nil {
		c.hooks.OnPush(hub.Push{Hub: "C3", Method: channel, Args: args})
	}
}

// Respond answers invoke index with result marshalled as JSON.
func (c *Conn) Respond(t testing.TB, index int, result any) {
	t.Helper()
	raw, err := segjson.Marshal(result)
	if err != nil {
		t.Fatalf("hubtest: marshal response: %v", err)
	}
	c.RespondRaw(index, raw)
}

// RespondEncoded answers index with payload compressed the way query
// results travel.
func (c *Conn) RespondEncoded(t testing.TB, index int, payload any) {
	t.Helper()
	encoded, err := codec.Encode(payload, codec.FramingRaw)
	if err != nil {
		t.Fatalf("hubtest: encode response: %v", err)
	}
	c.Respond(t, index, encoded)
}

func (c *Conn) RespondRaw(index int, result json.RawMessage) {
	if c.hooks.OnResponse != nil {
		c.hooks.OnResponse(hub.Response{Index: index, Result: result})
	}
}

func (c *Conn) RespondError(index int, message string) {
	if c.hooks.OnResponse != nil {
		c.hooks.OnResponse(hub.Response{Index: index, Error: message})
	}
}

// TransportError reports err through the connection's error hook.
func (c *Conn) TransportError(err error) {
	if c.hooks.OnError != nil {
		c.hooks.OnError(err)
	}
}
