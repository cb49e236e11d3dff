package socket

import (
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/tickerctl/internal/auth"
	"github.com/danmuck/tickerctl/internal/protocol"
	"github.com/danmuck/tickerctl/internal/protocol/codec"
	"github.com/danmuck/tickerctl/internal/protocol/session"
	"github.com/danmuck/tickerctl/internal/testutil/hubtest"
	"github.com/danmuck/tickerctl/internal/testutil/testlog"
)

const (
	waitFor = 2 * time.Second
	quiet   = 100 * time.Millisecond
)

type harness struct {
	t       *testing.T
	dialer  *hubtest.Dialer
	sock    *Socket
	public  chan codec.Message
	private chan codec.Message
	errs    chan error

	mu    sync.Mutex
	trace []Command
}

func testConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.URL = "https://hub.test/signalr"
	cfg.Backoff = session.BackoffConfig{
		InitialDelay: time.Millisecond,
		Multiplier:   1,
		MaxDelay:     5 * time.Millisecond,
	}
	return cfg
}

func start(t *testing.T, cfg session.Config, dialer *hubtest.Dialer) *harness {
	t.Helper()
	return startWith(t, cfg, dialer)
}

func startWith(t *testing.T, cfg session.Config, dialer *hubtest.Dialer, opts ...Option) *harness {
	t.Helper()
	if dialer == nil {
		dialer = hubtest.NewDialer()
	}
	h := &harness{
		t:       t,
		dialer:  dialer,
		public:  make(chan codec.Message, 64),
		private: make(chan codec.Message, 64),
		errs:    make(chan error, 64),
	}
	handlers := Handlers{
		OnPublic:  func(m codec.Message) { h.public <- m },
		OnPrivate: func(m codec.Message) { h.private <- m },
		OnError:   func(err error) { h.errs <- err },
	}
	opts = append([]Option{WithDialer(dialer), withTrace(h.record)}, opts...)
	sock, err := New(cfg, handlers, opts...)
	if err != nil {
		t.Fatalf("new socket: %v", err)
	}
	h.sock = sock
	t.Cleanup(func() {
		_ = sock.Disconnect()
		select {
		case <-sock.Done():
		case <-time.After(waitFor):
			t.Errorf("socket did not stop")
		}
	})
	return h
}

func (h *harness) record(cmd Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trace = append(h.trace, cmd)
}

func (h *harness) mark() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.trace)
}

// kindsSince lists applied command kinds after mark, without response
// resolution noise.
func (h *harness) kindsSince(mark int) []CommandKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	var kinds []CommandKind
	for _, cmd := range h.trace[mark:] {
		if cmd.Kind == commandResolve {
			continue
		}
		kinds = append(kinds, cmd.Kind)
	}
	return kinds
}

func (h *harness) nextPublic() codec.Message {
	h.t.Helper()
	select {
	case m := <-h.public:
		return m
	case <-time.After(waitFor):
		h.t.Fatalf("no public message")
		return codec.Message{}
	}
}

func (h *harness) nextPrivate() codec.Message {
	h.t.Helper()
	select {
	case m := <-h.private:
		return m
	case <-time.After(waitFor):
		h.t.Fatalf("no private message")
		return codec.Message{}
	}
}

func (h *harness) nextError() error {
	h.t.Helper()
	select {
	case err := <-h.errs:
		return err
	case <-time.After(waitFor):
		h.t.Fatalf("no error reported")
		return nil
	}
}

func (h *harness) noPublic() {
	h.t.Helper()
	select {
	case m := <-h.public:
		h.t.Fatalf("unexpected public message %s", m.Kind)
	case <-time.After(quiet):
	}
}

func (h *harness) noError() {
	h.t.Helper()
	select {
	case err := <-h.errs:
		h.t.Fatalf("unexpected error %v", err)
	case <-time.After(quiet):
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func expectInvocation(t *testing.T, conn *hubtest.Conn, method string, args ...any) {
	t.Helper()
	inv := conn.NextInvocation(t)
	if inv.Method != method || !reflect.DeepEqual(inv.Args, args) {
		t.Fatalf("invocation = %s %v want %s %v", inv.Method, inv.Args, method, args)
	}
}

func snapshotPayload() map[string]any {
	return map[string]any{
		"M": "BTC-ETH",
		"N": 7,
		"Z": []any{map[string]any{"Q": 1.5, "R": 0.031}},
		"S": []any{},
		"f": []any{},
	}
}

func TestSubscribeSingleTickerRecordsIndexZero(t *testing.T) {
	testlog.Start(t)
	h := start(t, testConfig(), nil)
	conn := h.dialer.Next(t)

	if err := h.sock.SubscribeToExchangeDeltas([]string{"BTC-ETH"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	expectInvocation(t, conn, protocol.MethodSubscribeToExchangeDeltas, "BTC-ETH")

	conn.RespondEncoded(t, 0, snapshotPayload())
	msg := h.nextPublic()
	if msg.Kind != codec.KindQueryResponse || msg.Invoke == nil {
		t.Fatalf("unexpected message %+v", msg)
	}
	want := protocol.InvokeRecord{Index: 0, Method: protocol.MethodSubscribeToExchangeDeltas, Ticker: "BTC-ETH"}
	if *msg.Invoke != want {
		t.Fatalf("invoke = %+v want %+v", *msg.Invoke, want)
	}
	eventually(t, "status", func() bool {
		st := h.sock.Status()
		return st.State == StateConnected && st.Invokes == 1
	})
}

func TestSubscribeManyTickersIncreasingIndices(t *testing.T) {
	testlog.Start(t)
	h := start(t, testConfig(), nil)
	conn := h.dialer.Next(t)

	tickers := []string{"BTC-ETH", "BTC-LTC", "USD-BTC"}
	if err := h.sock.SubscribeToExchangeDeltas(tickers); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for _, ticker := range tickers {
		expectInvocation(t, conn, protocol.MethodSubscribeToExchangeDeltas, ticker)
	}

	for i, ticker := range tickers {
		conn.RespondEncoded(t, i, snapshotPayload())
		msg := h.nextPublic()
		if msg.Invoke.Index != i || msg.Invoke.Ticker != ticker {
			t.Fatalf("response %d correlated to %+v", i, *msg.Invoke)
		}
	}
}

func TestOperationsRejectInvalidArguments(t *testing.T) {
	testlog.Start(t)
	h := start(t, testConfig(), nil)
	conn := h.dialer.Next(t)

	checks := map[string]error{
		"exchange nil":     h.sock.SubscribeToExchangeDeltas(nil),
		"exchange blank":   h.sock.SubscribeToExchangeDeltas([]string{"BTC-ETH", " "}),
		"query empty":      h.sock.QueryExchangeState([]string{}),
		"auth missing key": h.sock.Authenticate("", "S"),
	}
	for name, err := range checks {
		if !errors.Is(err, protocol.ErrInvalidArgument) {
			t.Fatalf("%s: expected ErrInvalidArgument, got %v", name, err)
		}
	}
	conn.NoInvocation(t, quiet)
}

func TestChannelWideSubscriptionsAndQueries(t *testing.T) {
	testlog.Start(t)
	h := start(t, testConfig(), nil)
	conn := h.dialer.Next(t)

	if err := h.sock.SubscribeToSummaryDeltas(); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if err := h.sock.SubscribeToSummaryLiteDeltas(); err != nil {
		t.Fatalf("lite: %v", err)
	}
	if err := h.sock.QuerySummaryState(); err != nil {
		t.Fatalf("query summary: %v", err)
	}
	if err := h.sock.QueryExchangeState([]string{"BTC-ETH"}); err != nil {
		t.Fatalf("query exchange: %v", err)
	}
	expectInvocation(t, conn, protocol.MethodSubscribeToSummaryDeltas)
	expectInvocation(t, conn, protocol.MethodSubscribeToSummaryLiteDeltas)
	expectInvocation(t, conn, protocol.MethodQuerySummaryState)
	expectInvocation(t, conn, protocol.MethodQueryExchangeState, "BTC-ETH")

	conn.Respond(t, 0, true)
	conn.Respond(t, 1, true)
	h.noPublic()

	conn.RespondEncoded(t, 3, snapshotPayload())
	msg := h.nextPublic()
	if msg.Invoke.Method != protocol.MethodQueryExchangeState || msg.Invoke.Ticker != "BTC-ETH" {
		t.Fatalf("query response correlated to %+v", *msg.Invoke)
	}
}

func TestAuthenticateSignsChallenge(t *testing.T) {
	testlog.Start(t)
	h := start(t, testConfig(), nil)
	conn := h.dialer.Next(t)

	if err := h.sock.Authenticate("K", "S"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	expectInvocation(t, conn, protocol.MethodGetAuthContext, "K")
	eventually(t, "challenge requested", func() bool {
		return h.sock.Status().Auth == auth.ChallengeRequested.String()
	})

	conn.Respond(t, 0, "abc123")
	want := "503e10e9a740037528b793d21be74db9f134a91760dc946daf4858b5cf098b21536834e433b6ad8443f9111699f06275083cd8310bdbc070c55b799deda7c821"
	expectInvocation(t, conn, protocol.MethodAuthenticate, "K", want)

	conn.Respond(t, 1, true)
	eventually(t, "authenticated", func() bool {
		return h.sock.Status().Auth == auth.Authenticated.String()
	})
	h.noPublic()
	h.noError()
}

func TestAuthenticateUsesConfiguredSigner(t *testing.T) {
	testlog.Start(t)
	signer := auth.SignerFunc(func(secret, challenge string) string {
		return secret + "/" + challenge
	})
	h := startWith(t, testConfig(), nil, WithSigner(signer))
	conn := h.dialer.Next(t)

	if err := h.sock.Authenticate("K", "S"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	expectInvocation(t, conn, protocol.MethodGetAuthContext, "K")
	conn.Respond(t, 0, "nonce")
	expectInvocation(t, conn, protocol.MethodAuthenticate, "K", "S/nonce")
}

func TestAbnormalCloseReplaysSubscriptionsOnce(t *testing.T) {
	testlog.Start(t)
	h := start(t, testConfig(), nil)
	first := h.dialer.Next(t)

	if err := h.sock.SubscribeToExchangeDeltas([]string{"BTC-ETH", "BTC-LTC"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	first.NextInvocation(t)
	first.NextInvocation(t)

	mark := h.mark()
	first.Drop(1006, "")

	second := h.dialer.Next(t)
	var replayed []string
	for i := 0; i < 2; i++ {
		inv := second.NextInvocation(t)
		if inv.Method != protocol.MethodSubscribeToExchangeDeltas {
			t.Fatalf("unexpected replay %s", inv.Method)
		}
		replayed = append(replayed, inv.Args[0].(string))
	}
	sort.Strings(replayed)
	if !reflect.DeepEqual(replayed, []string{"BTC-ETH", "BTC-LTC"}) {
		t.Fatalf("replayed tickers = %v", replayed)
	}

	want := []CommandKind{CommandReconnect, CommandConnect, CommandSubscribe, CommandSubscribe}
	if got := h.kindsSince(mark); !reflect.DeepEqual(got, want) {
		t.Fatalf("commands after drop = %v want %v", got, want)
	}

	err := h.nextError()
	if !errors.Is(err, protocol.ErrTransport) || !strings.Contains(err.Error(), "1006") {
		t.Fatalf("reconnect reason = %v", err)
	}
	h.dialer.NoDial(t, quiet)
	second.NoInvocation(t, quiet)
	if first.ClosedLocally() {
		t.Fatalf("dropped connection should not be reported as a local close")
	}
}

func TestReconnectReauthenticatesFromCredentials(t *testing.T) {
	testlog.Start(t)
	h := start(t, testConfig(), nil)
	first := h.dialer.Next(t)

	if err := h.sock.Authenticate("K", "S"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	expectInvocation(t, first, protocol.MethodGetAuthContext, "K")
	first.Respond(t, 0, "abc123")
	first.NextInvocation(t)
	if err := h.sock.SubscribeToExchangeDeltas([]string{"BTC-ETH"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	expectInvocation(t, first, protocol.MethodSubscribeToExchangeDeltas, "BTC-ETH")

	first.Drop(1011, "restart")
	second := h.dialer.Next(t)
	expectInvocation(t, second, protocol.MethodSubscribeToExchangeDeltas, "BTC-ETH")
	expectInvocation(t, second, protocol.MethodGetAuthContext, "K")

	second.Respond(t, 1, "nonce-2")
	inv := second.NextInvocation(t)
	if inv.Method != protocol.MethodAuthenticate || inv.Args[1] != auth.Sign("S", "nonce-2") {
		t.Fatalf("re-authentication = %s %v", inv.Method, inv.Args)
	}
	second.NoInvocation(t, quiet)
}

func TestServerNormalCloseStillReconnects(t *testing.T) {
	testlog.Start(t)
	h := start(t, testConfig(), nil)
	first := h.dialer.Next(t)

	first.Drop(1000, "bye")
	h.dialer.Next(t)
	if err := h.nextError(); !strings.Contains(err.Error(), "bye") {
		t.Fatalf("reason = %v", err)
	}
}

func TestDialFailureSchedulesReconnect(t *testing.T) {
	testlog.Start(t)
	dialer := hubtest.NewDialer()
	dialer.FailNext(errors.New("connection refused"))
	h := start(t, testConfig(), dialer)

	if err := h.nextError(); !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("reason = %v", err)
	}
	h.dialer.Next(t)
	if got := dialer.Attempts(); got != 2 {
		t.Fatalf("dial attempts = %d want 2", got)
	}
	for _, target := range dialer.Targets() {
		if target.URL != "https://hub.test/signalr" || target.Hub != protocol.DefaultHub {
			t.Fatalf("unexpected target %+v", target)
		}
	}
}

func TestSubscribeWhileDisconnectedIsNotLost(t *testing.T) {
	testlog.Start(t)
	dialer := hubtest.NewDialer()
	dialer.FailNext(errors.New("connection refused"))
	h := start(t, testConfig(), dialer)

	if err := h.sock.SubscribeToSummaryDeltas(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	conn := h.dialer.Next(t)
	expectInvocation(t, conn, protocol.MethodSubscribeToSummaryDeltas)
	conn.NoInvocation(t, quiet)
}

func TestReconnectAttemptsExhausted(t *testing.T) {
	testlog.Start(t)
	dialer := hubtest.NewDialer()
	for i := 0; i < 3; i++ {
		dialer.FailNext(errors.New("connection refused"))
	}
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 2
	h := start(t, cfg, dialer)

	select {
	case <-h.sock.Done():
	case <-time.After(waitFor):
		t.Fatalf("socket did not give up")
	}
	if !errors.Is(h.sock.Err(), ErrRetriesExhausted) {
		t.Fatalf("Err = %v", h.sock.Err())
	}
	if got := dialer.Attempts(); got != 3 {
		t.Fatalf("dial attempts = %d want 3", got)
	}
	if st := h.sock.Status(); st.State != StateFailed {
		t.Fatalf("state = %s", st.State)
	}
	if err := h.sock.SubscribeToSummaryDeltas(); !errors.Is(err, ErrClosed) {
		t.Fatalf("subscribe after failure = %v", err)
	}

	var sawExhausted bool
	for len(h.errs) > 0 {
		if errors.Is(<-h.errs, ErrRetriesExhausted) {
			sawExhausted = true
		}
	}
	if !sawExhausted {
		t.Fatalf("exhaustion was not reported to the error handler")
	}
}

func TestInvokeFailureEscalatesToSingleReconnect(t *testing.T) {
	testlog.Start(t)
	h := start(t, testConfig(), nil)
	first := h.dialer.Next(t)

	first.FailInvokes(nil)
	if err := h.sock.SubscribeToExchangeDeltas([]string{"BTC-ETH"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	second := h.dialer.Next(t)
	first.Drop(1006, "")

	expectInvocation(t, second, protocol.MethodSubscribeToExchangeDeltas, "BTC-ETH")
	if !first.ClosedLocally() {
		t.Fatalf("failed connection should be retired by the loop")
	}
	h.dialer.NoDial(t, quiet)
}

func TestResponsesDroppedWhenStaleOrUnknown(t *testing.T) {
	testlog.Start(t)
	h := start(t, testConfig(), nil)
	first := h.dialer.Next(t)

	if err := h.sock.QueryExchangeState([]string{"BTC-ETH"}); err != nil {
		t.Fatalf("query: %v", err)
	}
	first.NextInvocation(t)

	first.RespondEncoded(t, 5, snapshotPayload())
	h.noPublic()

	first.RespondEncoded(t, 0, snapshotPayload())
	h.nextPublic()
	first.RespondEncoded(t, 0, snapshotPayload())
	h.noPublic()

	first.Drop(1006, "")
	second := h.dialer.Next(t)
	expectInvocation(t, second, protocol.MethodQueryExchangeState, "BTC-ETH")

	first.RespondEncoded(t, 0, snapshotPayload())
	h.noPublic()

	second.RespondEncoded(t, 0, snapshotPayload())
	if msg := h.nextPublic(); msg.Invoke.Ticker != "BTC-ETH" {
		t.Fatalf("unexpected correlation %+v", *msg.Invoke)
	}
}

func TestHubErrorResponseReported(t *testing.T) {
	testlog.Start(t)
	h := start(t, testConfig(), nil)
	conn := h.dialer.Next(t)

	if err := h.sock.SubscribeToExchangeDeltas([]string{"NOPE-NOPE"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	conn.NextInvocation(t)
	conn.RespondError(0, "unknown market")

	err := h.nextError()
	if !errors.Is(err, ErrInvokeRejected) || !strings.Contains(err.Error(), "unknown market") {
		t.Fatalf("error = %v", err)
	}
}

func TestDecodeErrorDropsOnlyThatMessage(t *testing.T) {
	testlog.Start(t)
	h := start(t, testConfig(), nil)
	conn := h.dialer.Next(t)

	conn.PushRaw(protocol.ChannelExchangeDelta, json.RawMessage(`"!!not-base64!!"`))
	conn.PushRaw(protocol.ChannelExchangeDelta, json.RawMessage(`42`))
	conn.PushRaw(protocol.ChannelExchangeDelta)
	conn.TransportError(protocol.ErrDecode)
	conn.Push(t, protocol.ChannelExchangeDelta, map[string]any{"M": "BTC-ETH", "N": 8, "Z": []any{}, "S": []any{}, "f": []any{}})

	msg := h.nextPublic()
	if msg.Kind != codec.KindExchangeDelta || msg.Channel != protocol.ChannelExchangeDelta {
		t.Fatalf("unexpected message %+v", msg)
	}
	h.noPublic()
	h.noError()
	if h.sock.Status().State != StateConnected {
		t.Fatalf("decode errors must not tear down the connection")
	}
	h.dialer.NoDial(t, quiet)
}

func TestPushRoutingByChannel(t *testing.T) {
	testlog.Start(t)
	h := start(t, testConfig(), nil)
	conn := h.dialer.Next(t)

	full := map[string]any{"D": []any{map[string]any{"M": "BTC-ETH", "H": 1, "L": 0.5, "V": 10}}}
	lite := map[string]any{"D": []any{map[string]any{"M": "BTC-ETH", "l": 1, "m": 2}}}
	conn.Push(t, protocol.ChannelSummaryDelta, full)
	conn.Push(t, protocol.ChannelSummaryLiteDelta, lite)
	conn.Push(t, protocol.ChannelBalanceDelta, map[string]any{"N": 1, "d": map[string]any{"c": "BTC"}})
	conn.Push(t, protocol.ChannelOrderDelta, map[string]any{"w": "acct", "TY": 0})
	conn.Push(t, "uX", full)

	if got := h.nextPublic().Kind; got != codec.KindSummaryDelta {
		t.Fatalf("first public kind = %s", got)
	}
	if got := h.nextPublic().Kind; got != codec.KindSummaryLiteDelta {
		t.Fatalf("second public kind = %s", got)
	}
	if got := h.nextPrivate().Kind; got != codec.KindBalanceDelta {
		t.Fatalf("first private kind = %s", got)
	}
	if got := h.nextPrivate().Kind; got != codec.KindOrderDelta {
		t.Fatalf("second private kind = %s", got)
	}
	h.noPublic()
}

func TestSlowHandlerDoesNotBlockDecode(t *testing.T) {
	testlog.Start(t)
	dialer := hubtest.NewDialer()
	gate := make(chan struct{})
	got := make(chan int, 8)
	handlers := Handlers{
		OnPublic: func(m codec.Message) {
			<-gate
			got <- int(m.Data.(map[string]any)["N"].(float64))
		},
	}
	sock, err := New(testConfig(), handlers, WithDialer(dialer))
	if err != nil {
		t.Fatalf("new socket: %v", err)
	}
	conn := dialer.Next(t)

	pushed := make(chan struct{})
	go func() {
		for n := 1; n <= 5; n++ {
			conn.Push(t, protocol.ChannelExchangeDelta, map[string]any{"M": "BTC-ETH", "N": n})
		}
		close(pushed)
	}()
	select {
	case <-pushed:
	case <-time.After(waitFor):
		t.Fatalf("decode blocked behind a slow handler")
	}

	close(gate)
	for want := 1; want <= 5; want++ {
		select {
		case n := <-got:
			if n != want {
				t.Fatalf("delivery order: got %d want %d", n, want)
			}
		case <-time.After(waitFor):
			t.Fatalf("message %d not delivered", want)
		}
	}
	_ = sock.Disconnect()
	<-sock.Done()
}

func TestHandlerPanicDoesNotStopLane(t *testing.T) {
	testlog.Start(t)
	dialer := hubtest.NewDialer()
	got := make(chan codec.Kind, 4)
	calls := 0
	handlers := Handlers{
		OnPublic: func(m codec.Message) {
			calls++
			if calls == 1 {
				panic("handler bug")
			}
			got <- m.Kind
		},
	}
	sock, err := New(testConfig(), handlers, WithDialer(dialer))
	if err != nil {
		t.Fatalf("new socket: %v", err)
	}
	t.Cleanup(func() { _ = sock.Disconnect(); <-sock.Done() })
	conn := dialer.Next(t)

	conn.Push(t, protocol.ChannelExchangeDelta, map[string]any{"M": "BTC-ETH"})
	conn.Push(t, protocol.ChannelExchangeDelta, map[string]any{"M": "BTC-LTC"})
	select {
	case kind := <-got:
		if kind != codec.KindExchangeDelta {
			t.Fatalf("kind = %s", kind)
		}
	case <-time.After(waitFor):
		t.Fatalf("lane stopped after handler panic")
	}
}

func TestDisconnectRejectsLaterCommands(t *testing.T) {
	testlog.Start(t)
	h := start(t, testConfig(), nil)
	conn := h.dialer.Next(t)

	if err := h.sock.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	select {
	case <-h.sock.Done():
	case <-time.After(waitFor):
		t.Fatalf("socket did not stop")
	}
	if !conn.ClosedLocally() {
		t.Fatalf("connection not closed on disconnect")
	}
	if err := h.sock.Submit(Connect()); !errors.Is(err, ErrClosed) {
		t.Fatalf("submit after close = %v", err)
	}
	if err := h.sock.SubscribeToExchangeDeltas([]string{"BTC-ETH"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("subscribe after close = %v", err)
	}
	if err := h.sock.Disconnect(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second disconnect = %v", err)
	}
	if h.sock.Err() != nil {
		t.Fatalf("Err after disconnect = %v", h.sock.Err())
	}
	if st := h.sock.Status(); st.State != StateClosed {
		t.Fatalf("state = %s", st.State)
	}
	h.dialer.NoDial(t, quiet)
}

func TestDisconnectAppliesCommandsQueuedBeforeIt(t *testing.T) {
	testlog.Start(t)
	for _, rate := range []float64{0, 200} {
		cfg := testConfig()
		cfg.InvokeRate = rate
		h := start(t, cfg, nil)
		conn := h.dialer.Next(t)

		tickers := []string{"BTC-ETH", "BTC-LTC", "USD-BTC"}
		if err := h.sock.SubscribeToExchangeDeltas(tickers); err != nil {
			t.Fatalf("rate %v: subscribe: %v", rate, err)
		}
		if err := h.sock.Disconnect(); err != nil {
			t.Fatalf("rate %v: disconnect: %v", rate, err)
		}
		select {
		case <-h.sock.Done():
		case <-time.After(waitFor):
			t.Fatalf("rate %v: socket did not stop", rate)
		}

		got := conn.Invocations()
		if len(got) != len(tickers) {
			t.Fatalf("rate %v: invocations = %d want %d", rate, len(got), len(tickers))
		}
		for i, ticker := range tickers {
			if got[i].Method != protocol.MethodSubscribeToExchangeDeltas || !reflect.DeepEqual(got[i].Args, []any{ticker}) {
				t.Fatalf("rate %v: invocation %d = %s %v", rate, i, got[i].Method, got[i].Args)
			}
		}
		if !conn.ClosedLocally() {
			t.Fatalf("rate %v: connection not closed", rate)
		}
		if h.sock.Err() != nil {
			t.Fatalf("rate %v: Err = %v", rate, h.sock.Err())
		}
	}
}

func TestDisconnectInterruptsBackoff(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Backoff = session.BackoffConfig{InitialDelay: time.Minute, Multiplier: 1, MaxDelay: time.Minute}
	h := start(t, cfg, nil)
	conn := h.dialer.Next(t)

	conn.Drop(1006, "")
	h.nextError()
	if err := h.sock.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	select {
	case <-h.sock.Done():
	case <-time.After(waitFor):
		t.Fatalf("backoff wait was not interrupted")
	}
	if got := h.dialer.Attempts(); got != 1 {
		t.Fatalf("dial attempts = %d want 1", got)
	}
}
