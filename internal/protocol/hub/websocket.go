package hub

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/tickerctl/internal/protocol"
	"github.com/gorilla/websocket"
	segjson "github.com/segmentio/encoding/json"
	"github.com/tidwall/gjson"
)

const closeGrace = time.Second

// WebsocketDialer opens hub connections over gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	// ReadTimeout bounds the silence tolerated between frames. The hub sends
	// keep-alive frames well inside the default.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Header       http.Header
	TLSConfig    *tls.Config
}

func (d WebsocketDialer) Dial(ctx context.Context, target Target, hooks Hooks) (Conn, error) {
	endpoint, err := ConnectURL(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrInvalidArgument, err)
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		TLSClientConfig:  d.TLSConfig,
	}
	ws, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusSwitchingProtocols {
				return nil, fmt.Errorf("%w: %w", protocol.ErrTransport, &HandshakeError{StatusCode: resp.StatusCode})
			}
		}
		return nil, fmt.Errorf("%w: dial %s: %v", protocol.ErrTransport, endpoint, err)
	}

	c := &wsConn{
		ws:           ws,
		hub:          target.Hub,
		hooks:        hooks,
		readTimeout:  d.ReadTimeout,
		writeTimeout: d.WriteTimeout,
		done:         make(chan struct{}),
	}
	if c.readTimeout > 0 {
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		})
	}
	go c.readLoop()
	return c, nil
}

type invokeFrame struct {
	Hub    string `json:"H"`
	Method string `json:"M"`
	Args   []any  `json:"A"`
	ID     string `json:"I"`
}

type wsConn struct {
	ws           *websocket.Conn
	hub          string
	hooks        Hooks
	readTimeout  time.Duration
	writeTimeout time.Duration

	writeMu sync.Mutex
	nextID  int

	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	err       *CloseError
}

func (c *wsConn) Invoke(method string, args ...any) (int, error) {
	if args == nil {
		args = []any{}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return -1, fmt.Errorf("%w: invoke %s on closed connection", protocol.ErrTransport, method)
	default:
	}

	id := c.nextID
	frame, err := segjson.Marshal(invokeFrame{Hub: c.hub, Method: method, Args: args, ID: strconv.Itoa(id)})
	if err != nil {
		return -1, fmt.Errorf("%w: encode %s: %v", protocol.ErrInvalidArgument, method, err)
	}
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return -1, fmt.Errorf("%w: invoke %s: %v", protocol.ErrTransport, method, err)
	}
	c.nextID++
	return id, nil
}

func (c *wsConn) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	select {
	case <-c.done:
		return nil
	default:
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	return c.ws.Close()
}

func (c *wsConn) Wait() error {
	<-c.done
	return c.err
}

func (c *wsConn) readLoop() {
	var cause error
	for {
		if c.readTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			cause = err
			break
		}
		c.dispatch(data)
	}
	c.finish(cause)
}

// dispatch splits one hub frame into a response or its pushes.
func (c *wsConn) dispatch(data []byte) {
	if !gjson.ValidBytes(data) {
		c.hooks.error(fmt.Errorf("%w: invalid hub frame", protocol.ErrDecode))
		return
	}
	frame := gjson.ParseBytes(data)
	if id := frame.Get("I"); id.Exists() {
		if frame.Get("P").Exists() {
			return
		}
		resp := Response{Index: int(id.Int()), Error: frame.Get("E").String()}
		if r := frame.Get("R"); r.Exists() {
			resp.Result = json.RawMessage(r.Raw)
		}
		c.hooks.response(resp)
		return
	}
	frame.Get("M").ForEach(func(_, m gjson.Result) bool {
		push := Push{Hub: m.Get("H").String(), Method: m.Get("M").String()}
		m.Get("A").ForEach(func(_, arg gjson.Result) bool {
			push.Args = append(push.Args, json.RawMessage(arg.Raw))
			return true
		})
		c.hooks.push(push)
		return true
	})
}

func (c *wsConn) finish(cause error) {
	c.closeOnce.Do(func() {
		ce := &CloseError{Code: CloseAbnormal}
		var wsClose *websocket.CloseError
		switch {
		case c.closing.Load():
			ce.Code = CloseNormal
			ce.Local = true
		case errors.As(cause, &wsClose):
			ce.Code = wsClose.Code
			ce.Reason = wsClose.Text
		case cause != nil:
			ce.Reason = cause.Error()
		}
		c.err = ce
		_ = c.ws.Close()
		close(c.done)
	})
}
