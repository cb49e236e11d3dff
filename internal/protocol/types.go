package protocol

const (
	DefaultURL = "https://socket-v3.bittrex.com/signalr"
	DefaultHub = "c3"
)

// Hub server methods.
const (
	MethodSubscribeToExchangeDeltas    = "SubscribeToExchangeDeltas"
	MethodSubscribeToSummaryDeltas     = "SubscribeToSummaryDeltas"
	MethodSubscribeToSummaryLiteDeltas = "SubscribeToSummaryLiteDeltas"
	MethodQuerySummaryState            = "QuerySummaryState"
	MethodQueryExchangeState           = "QueryExchangeState"
	MethodGetAuthContext               = "GetAuthContext"
	MethodAuthenticate                 = "Authenticate"
)

// Hub client methods the server pushes deltas through.
const (
	ChannelExchangeDelta    = "uE"
	ChannelSummaryDelta     = "uS"
	ChannelSummaryLiteDelta = "uL"
	ChannelBalanceDelta     = "uB"
	ChannelOrderDelta       = "uO"
)

// Invocation is one outbound call to a hub server method.
type Invocation struct {
	Method string
	Args   []any
}

// InvokeRecord correlates a response position with the invoke that produced it.
// Ticker is empty for invokes that do not target a market.
type InvokeRecord struct {
	Index  int    `json:"index"`
	Method string `json:"method"`
	Ticker string `json:"ticker,omitempty"`
}

// IsAuthMethod reports whether method belongs to the challenge/response flow.
func IsAuthMethod(method string) bool {
	return method == MethodGetAuthContext || method == MethodAuthenticate
}

// IsPrivateChannel reports whether pushes on channel belong to the account feed.
func IsPrivateChannel(channel string) bool {
	return channel == ChannelBalanceDelta || channel == ChannelOrderDelta
}

// IsKnownChannel reports whether channel is one the client subscribes handlers to.
func IsKnownChannel(channel string) bool {
	switch channel {
	case ChannelExchangeDelta, ChannelSummaryDelta, ChannelSummaryLiteDelta,
		ChannelBalanceDelta, ChannelOrderDelta:
		return true
	default:
		return false
	}
}
