package codec

import (
	"fmt"

	"github.com/danmuck/tickerctl/internal/protocol"
	"github.com/tidwall/gjson"
)

// Summary entries carrying more attributes than this are full summaries.
const liteFieldLimit = 3

// DecodePush decodes the first argument of a push received on channel.
func DecodePush(channel string, arg []byte) (Message, error) {
	body, err := payloadBytes(arg)
	if err != nil {
		return Message{}, err
	}
	data, err := Parse(body)
	if err != nil {
		return Message{}, err
	}
	var kind Kind
	switch channel {
	case protocol.ChannelBalanceDelta:
		kind = KindBalanceDelta
	case protocol.ChannelOrderDelta:
		kind = KindOrderDelta
	default:
		kind = ClassifyDelta(body, channel)
	}
	return Message{Kind: kind, Channel: channel, Data: data, Raw: body}, nil
}

// ClassifyDelta tags a public delta by shape: no "D" array means an exchange
// delta, otherwise the width of the first entry separates full from lite
// summaries. An empty "D" falls back to the channel it arrived on.
func ClassifyDelta(body []byte, channel string) Kind {
	deltas := gjson.GetBytes(body, "D")
	if !deltas.Exists() {
		return KindExchangeDelta
	}
	first := deltas.Get("0")
	if !first.Exists() {
		if channel == protocol.ChannelSummaryDelta {
			return KindSummaryDelta
		}
		return KindSummaryLiteDelta
	}
	if countFields(first) > liteFieldLimit {
		return KindSummaryDelta
	}
	return KindSummaryLiteDelta
}

func countFields(entry gjson.Result) int {
	n := 0
	entry.ForEach(func(_, _ gjson.Result) bool {
		n++
		return true
	})
	return n
}

// DecodeResponse classifies a response by the invoke that produced it. The
// boolean result is false for plain acknowledgments, which carry no message.
func DecodeResponse(rec protocol.InvokeRecord, result []byte) (Message, bool, error) {
	r := gjson.ParseBytes(result)
	invoke := rec
	if rec.Method == protocol.MethodAuthenticate {
		return Message{Kind: KindAuthAck, Invoke: &invoke, Accepted: r.Type == gjson.True}, true, nil
	}
	switch r.Type {
	case gjson.True, gjson.False, gjson.Null:
		return Message{}, false, nil
	}
	if rec.Method == protocol.MethodGetAuthContext {
		if r.Type != gjson.String {
			return Message{}, false, fmt.Errorf("%w: auth challenge is not a string", protocol.ErrDecode)
		}
		return Message{Kind: KindAuthChallenge, Invoke: &invoke, Challenge: r.Str}, true, nil
	}
	body, err := payloadBytes(result)
	if err != nil {
		return Message{}, false, err
	}
	data, err := Parse(body)
	if err != nil {
		return Message{}, false, err
	}
	return Message{Kind: KindQueryResponse, Invoke: &invoke, Data: data, Raw: body}, true, nil
}

// payloadBytes unwraps one JSON value off the wire: strings are encoded
// payloads, objects and arrays are already plain JSON.
func payloadBytes(raw []byte) ([]byte, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json value", protocol.ErrDecode)
	}
	r := gjson.ParseBytes(raw)
	switch {
	case r.Type == gjson.String:
		return Inflate(r.Str)
	case r.IsObject() || r.IsArray():
		return []byte(r.Raw), nil
	default:
		return nil, fmt.Errorf("%w: unexpected payload type %s", protocol.ErrDecode, r.Type)
	}
}
