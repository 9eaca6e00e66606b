// Package vessel defines the persisted vessel snapshot, the append-only
// position history record and the rules for folding an inbound update into
// a snapshot.
package vessel

import (
	"strconv"
	"time"

	"ais_ingest/internal/lookup"
)

// Vessel is the current known state of one MMSI.
type Vessel struct {
	MMSI               int64             `json:"mmsi"`
	Name               string            `json:"name"`
	IMONumber          string            `json:"imo_number"`
	CallSign           string            `json:"call_sign,omitempty"`
	VesselType         lookup.VesselType `json:"vessel_type"`
	Flag               string            `json:"flag"`
	Latitude           *float64          `json:"latitude,omitempty"`
	Longitude          *float64          `json:"longitude,omitempty"`
	Speed              *float64          `json:"speed,omitempty"`
	Course             *float64          `json:"course,omitempty"`
	Heading            *int              `json:"heading,omitempty"`
	NavStatusCode      *int              `json:"nav_status,omitempty"`
	Status             string            `json:"status"`
	LastPositionUpdate *time.Time        `json:"last_position_update,omitempty"`
	DataSource         string            `json:"data_source"`
	MsgCount           int               `json:"msg_count"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// HasPosition returns true if the vessel has both coordinates.
func (v *Vessel) HasPosition() bool {
	return v.Latitude != nil && v.Longitude != nil
}

// Position is one immutable history row.
type Position struct {
	ID         int64     `json:"id"`
	MMSI       int64     `json:"mmsi"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Speed      *float64  `json:"speed,omitempty"`
	Course     *float64  `json:"course,omitempty"`
	Heading    *int      `json:"heading,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DataSource string    `json:"data_source"`
}

// Update carries the fields of one decoded, classified event. Nil pointers
// mean "not present in this event". VesselType and Flag are advisory: they
// only fill placeholders on an existing snapshot.
type Update struct {
	MMSI          int64
	Name          *string
	IMONumber     *string
	CallSign      *string
	VesselType    lookup.VesselType
	Flag          string
	Latitude      *float64
	Longitude     *float64
	Speed         *float64
	Course        *float64
	Heading       *int
	NavStatusCode *int
	Timestamp     time.Time // Zero when the event carried no time.
	DataSource    string
}

// HasPosition reports whether the update carries both coordinates.
func (u *Update) HasPosition() bool {
	return u.Latitude != nil && u.Longitude != nil
}

// PlaceholderName is the synthesized name for vessels seen without one.
func PlaceholderName(mmsi int64) string {
	return "Vessel-" + strconv.FormatInt(mmsi, 10)
}

// PlaceholderIMO is the synthesized IMO number for vessels seen without one.
func PlaceholderIMO(mmsi int64) string {
	return "IMO" + strconv.FormatInt(mmsi, 10)
}

// IsPlaceholderName reports whether name was synthesized for mmsi.
func IsPlaceholderName(mmsi int64, name string) bool {
	return name == "" || name == PlaceholderName(mmsi)
}
