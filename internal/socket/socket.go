package socket

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
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

var (
	ErrClosed           = errors.New("socket: closed")
	ErrRetriesExhausted = errors.New("socket: reconnect attempts exhausted")
	ErrInvokeRejected   = errors.New("socket: invoke rejected by hub")
)

// Handlers receive decoded output. Each runs on its own goroutine and sees
// values in decode order. Nil handlers discard.
type Handlers struct {
	OnPublic  func(codec.Message)
	OnPrivate func(codec.Message)
	OnError   func(error)
}

type Option func(*options)

type options struct {
	dialer hub.Dialer
	signer auth.Signer
	logger *zerolog.Logger
	rng    *rand.Rand
	trace  func(Command)
}

// WithDialer replaces the websocket transport.
func WithDialer(d hub.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

func WithSigner(s auth.Signer) Option {
	return func(o *options) { o.signer = s }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// withTrace observes every command on the loop before it is applied.
func withTrace(fn func(Command)) Option {
	return func(o *options) { o.trace = fn }
}

// Socket is the caller-facing client. All operations return once the work is
// queued; results arrive through Handlers.
type Socket struct {
	queue  *commandQueue
	cancel context.CancelFunc
	status atomic.Pointer[Status]
	done   chan struct{}

	errMu sync.Mutex
	err   error
}

// New starts the control loop and queues the first Connect.
func New(cfg session.Config, handlers Handlers, opts ...Option) (*Socket, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		o.dialer = hub.WebsocketDialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadTimeout:      cfg.ReadTimeout,
			WriteTimeout:     cfg.WriteTimeout,
		}
	}
	logger := observability.Logger("socket")
	if o.logger != nil {
		logger = *o.logger
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	limit := rate.Inf
	if cfg.InvokeRate > 0 {
		limit = rate.Limit(cfg.InvokeRate)
	}

	// ctx lives until the loop stops. interrupt is cancelled by Disconnect
	// and only aborts dialing and the reconnect wait, so commands accepted
	// before Close still reach the hub.
	ctx, cancel := context.WithCancel(context.Background())
	interrupt, stop := context.WithCancel(ctx)
	s := &Socket{
		queue:  newCommandQueue(),
		cancel: stop,
		done:   make(chan struct{}),
	}
	loop := &controlLoop{
		cfg:          cfg,
		ctx:          ctx,
		interrupt:    interrupt,
		queue:        s.queue,
		limiter:      rate.NewLimiter(limit, cfg.InvokeBurst),
		rng:          o.rng,
		log:          logger,
		trace:        o.trace,
		public:       newLane("public", handlers.OnPublic, logger),
		private:      newLane("private", handlers.OnPrivate, logger),
		errs:         newLane("error", handlers.OnError, logger),
		publish:      func(st Status) { s.status.Store(&st) },
		registry:     session.NewInvokeRegistry(),
		auth:         auth.NewMachine(o.signer),
		lastResponse: -1,
	}
	loop.finish = func(err error) {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		stop()
		cancel()
		close(s.done)
	}
	loop.super = &supervisor{
		dialer:  o.dialer,
		target:  hub.Target{URL: cfg.URL, Hub: cfg.Hub},
		timeout: cfg.ConnectTimeout,
		queue:   s.queue,
		log:     logger,
		onPush:  loop.handlePush,
		onError: loop.handleTransportError,
	}
	loop.publishStatus()

	if err := s.queue.push(Connect()); err != nil {
		stop()
		cancel()
		return nil, err
	}
	go loop.run()
	return s, nil
}

// Submit queues cmd for the control loop. It fails with ErrClosed once
// Disconnect has been called.
func (s *Socket) Submit(cmd Command) error {
	return s.queue.push(cmd)
}

// SubscribeToExchangeDeltas issues one subscribe per ticker.
func (s *Socket) SubscribeToExchangeDeltas(tickers []string) error {
	return s.perTicker(protocol.MethodSubscribeToExchangeDeltas, tickers)
}

func (s *Socket) SubscribeToSummaryDeltas() error {
	return s.Submit(Subscribe(protocol.MethodSubscribeToSummaryDeltas))
}

func (s *Socket) SubscribeToSummaryLiteDeltas() error {
	return s.Submit(Subscribe(protocol.MethodSubscribeToSummaryLiteDeltas))
}

func (s *Socket) QuerySummaryState() error {
	return s.Submit(Subscribe(protocol.MethodQuerySummaryState))
}

// QueryExchangeState requests an order book snapshot per ticker. Results
// arrive on OnPublic as query responses naming their ticker.
func (s *Socket) QueryExchangeState(tickers []string) error {
	return s.perTicker(protocol.MethodQueryExchangeState, tickers)
}

// Authenticate starts the challenge/response flow. The credentials are kept
// and replayed after every reconnect.
func (s *Socket) Authenticate(key, secret string) error {
	creds := auth.Credentials{Key: key, Secret: secret}
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidArgument, err)
	}
	return s.Submit(Authenticate(creds))
}

// Disconnect queues Close as the final command and interrupts any dial or
// reconnect wait in progress. Commands queued earlier are still applied.
func (s *Socket) Disconnect() error {
	if err := s.queue.closeWith(Close()); err != nil {
		return err
	}
	s.cancel()
	return nil
}

// Done is closed once the loop has stopped and every handler lane drained.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Err reports why the socket stopped: nil after Disconnect, ErrRetriesExhausted
// when reconnecting gave up.
func (s *Socket) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Socket) Status() Status {
	if st := s.status.Load(); st != nil {
		return *st
	}
	return Status{State: StateConnecting}
}

func (s *Socket) perTicker(method string, tickers []string) error {
	if len(tickers) == 0 {
		return fmt.Errorf("%w: %s needs at least one ticker", protocol.ErrInvalidArgument, method)
	}
	for _, ticker := range tickers {
		if strings.TrimSpace(ticker) == "" {
			return fmt.Errorf("%w: %s: blank ticker", protocol.ErrInvalidArgument, method)
		}
	}
	for _, ticker := range tickers {
		if err := s.Submit(Subscribe(method, ticker)); err != nil {
			return err
		}
	}
	return nil
}
