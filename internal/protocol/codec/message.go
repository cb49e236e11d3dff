package codec

import "github.com/danmuck/tickerctl/internal/protocol"

// Kind is the classification computed once at decode time.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindExchangeDelta
	KindSummaryDelta
	KindSummaryLiteDelta
	KindBalanceDelta
	KindOrderDelta
	KindQueryResponse
	KindAuthChallenge
	KindAuthAck
)

func (k Kind) String() string {
	switch k {
	case KindExchangeDelta:
		return "exchange_delta"
	case KindSummaryDelta:
		return "summary_delta"
	case KindSummaryLiteDelta:
		return "summary_lite_delta"
	case KindBalanceDelta:
		return "balance_delta"
	case KindOrderDelta:
		return "order_delta"
	case KindQueryResponse:
		return "query_response"
	case KindAuthChallenge:
		return "auth_challenge"
	case KindAuthAck:
		return "auth_ack"
	default:
		return "unknown"
	}
}

// Message is one decoded payload.
//
// Channel is set for pushes, Invoke for anything read off the response stream.
// Challenge and Accepted are only meaningful for the auth kinds.
type Message struct {
	Kind      Kind
	Channel   string
	Invoke    *protocol.InvokeRecord
	Data      any
	Raw       []byte
	Challenge string
	Accepted  bool
}

// Private reports whether the message belongs to the account feed.
func (m Message) Private() bool {
	return protocol.IsPrivateChannel(m.Channel)
}
