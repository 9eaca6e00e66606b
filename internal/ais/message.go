// Package ais provides the wire types of the aisstream feed: the subscribe
// frame sent by the client and the data-frame envelope delivered by the
// server.
package ais

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Message kinds carried in the MessageType discriminator.
const (
	KindPositionReport         = "PositionReport"
	KindStandardClassBPosition = "StandardClassBPositionReport"
	KindExtendedClassBPosition = "ExtendedClassBPositionReport"
	KindShipStaticData         = "ShipStaticData"
	KindStaticDataReport       = "StaticDataReport"
)

// DefaultMessageKinds is the subscription filter used when none is configured.
var DefaultMessageKinds = []string{
	KindPositionReport,
	KindStandardClassBPosition,
	KindExtendedClassBPosition,
	KindShipStaticData,
	KindStaticDataReport,
}

// FlexInt64 handles JSON fields that can be either string or number.
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			*f = FlexInt64(i)
			return nil
		}
		if fl, err := n.Float64(); err == nil {
			*f = FlexInt64(int64(fl))
			return nil
		}
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			*f = 0
			return nil // Unparseable identifiers decode as absent.
		}
		*f = FlexInt64(i)
		return nil
	}

	*f = 0
	return nil
}

// BoundingBox is a pair of [lat, lon] corners.
type BoundingBox [2][2]float64

// SubscribeFrame is sent once per connection right after the handshake.
type SubscribeFrame struct {
	APIKey             string        `json:"APIKey"`
	BoundingBoxes      []BoundingBox `json:"BoundingBoxes"`
	FilterMessageTypes []string      `json:"FilterMessageTypes,omitempty"`
}

// MetaData is the feed-provided header common to every data frame.
type MetaData struct {
	MMSI      FlexInt64  `json:"MMSI"`
	ShipName  string     `json:"ShipName"`
	TimeUTC   string     `json:"time_utc"`
	ShipType  *FlexInt64 `json:"ShipType,omitempty"`
	Latitude  *float64   `json:"latitude,omitempty"`
	Longitude *float64   `json:"longitude,omitempty"`
}

// Envelope is one server-to-client data frame. The body is kept raw and keyed
// by message kind; decoders pick the entry that matches MessageType.
type Envelope struct {
	MessageType string                     `json:"MessageType"`
	MetaData    *MetaData                  `json:"MetaData"`
	Message     map[string]json.RawMessage `json:"Message"`

	// Error is set instead of the fields above when the server rejects the
	// subscription, e.g. {"error": "Api Key Is Not Valid"}.
	Error string `json:"error,omitempty"`
}

// Body returns the raw message body for the envelope's own kind.
func (e *Envelope) Body() json.RawMessage {
	if e == nil || e.Message == nil {
		return nil
	}
	return e.Message[e.MessageType]
}

// ParseEnvelope decodes a raw frame. Numbers inside the body are preserved
// as json.Number when the body is later walked generically.
func ParseEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// DecodeTree unmarshals raw JSON into a generic tree using json.Number for
// numeric leaves.
func DecodeTree(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
