package session

import (
	"fmt"

	"github.com/danmuck/tickerctl/internal/protocol"
)

// InvokeRegistry is the append-only, position-indexed record of invokes sent
// on the current connection. The position is the only correlation key: the hub
// answers invokes in the order they were issued.
//
// It is not safe for concurrent use; the socket control loop is its only owner.
type InvokeRegistry struct {
	records []protocol.InvokeRecord
}

func NewInvokeRegistry() *InvokeRegistry {
	return &InvokeRegistry{}
}

// Record appends an invoke and returns its index.
func (r *InvokeRegistry) Record(method, ticker string) int {
	idx := len(r.records)
	r.records = append(r.records, protocol.InvokeRecord{
		Index:  idx,
		Method: method,
		Ticker: ticker,
	})
	return idx
}

func (r *InvokeRegistry) Lookup(index int) (protocol.InvokeRecord, error) {
	if index < 0 || index >= len(r.records) {
		return protocol.InvokeRecord{}, fmt.Errorf("%w: %d (recorded=%d)", protocol.ErrUnknownIndex, index, len(r.records))
	}
	return r.records[index], nil
}

// Snapshot returns the records in call order.
func (r *InvokeRegistry) Snapshot() []protocol.InvokeRecord {
	out := make([]protocol.InvokeRecord, len(r.records))
	copy(out, r.records)
	return out
}

func (r *InvokeRegistry) Len() int {
	return len(r.records)
}

func (r *InvokeRegistry) Clear() {
	r.records = nil
}
