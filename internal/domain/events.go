package domain

import (
	"encoding/json"
	"time"
)

// SignalBus channel names.
const (
	ChannelListings = "ch:listings"
	ChannelBids     = "ch:bids"
	ChannelSales    = "ch:sales"
	ChannelGroups   = "ch:groups"
)

// StreamSettlements is the durable settlement journal. Unlike the pub/sub
// channels, entries survive until trimmed and can be replayed from any id.
const StreamSettlements = "stream:settlements"

// Event is the envelope published on the signal bus.
type Event struct {
	Type    string          `json:"type"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an Event envelope. A payload that cannot be
// marshaled is a programming error, so the envelope is returned with a nil
// payload rather than failing the operation that emitted it.
func NewEvent(eventType string, at time.Time, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}
	return Event{Type: eventType, At: at, Payload: data}
}

// Encode returns the JSON wire form of the event.
func (e Event) Encode() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}
