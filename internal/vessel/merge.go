package vessel

import (
	"time"

	"ais_ingest/internal/lookup"
)

// New builds the snapshot for a first sighting, filling defaults for every
// field the update does not carry.
func New(u Update, now time.Time) Vessel {
	v := Vessel{
		MMSI:       u.MMSI,
		Name:       PlaceholderName(u.MMSI),
		IMONumber:  PlaceholderIMO(u.MMSI),
		VesselType: lookup.Other,
		Flag:       lookup.UnknownFlag,
		Status:     lookup.StatusActive,
		CreatedAt:  now,
	}
	Merge(&v, u, now)
	return v
}

// Merge folds u into v. Every non-nil field overwrites the stored one, except
// vessel type and flag which only replace placeholder values, and
// LastPositionUpdate which never moves backwards.
func Merge(v *Vessel, u Update, now time.Time) {
	if u.Name != nil && *u.Name != "" {
		v.Name = *u.Name
	}
	if u.IMONumber != nil && *u.IMONumber != "" {
		v.IMONumber = *u.IMONumber
	}
	if u.CallSign != nil && *u.CallSign != "" {
		v.CallSign = *u.CallSign
	}

	v.VesselType = MergeType(v.VesselType, u.VesselType)
	v.Flag = MergeFlag(v.Flag, u.Flag)

	if u.HasPosition() {
		v.Latitude = ptr(*u.Latitude)
		v.Longitude = ptr(*u.Longitude)
		ts := u.PositionTime(now)
		if v.LastPositionUpdate == nil || ts.After(*v.LastPositionUpdate) {
			v.LastPositionUpdate = &ts
		}
	}
	if u.Speed != nil {
		v.Speed = ptr(*u.Speed)
	}
	if u.Course != nil {
		v.Course = ptr(*u.Course)
	}
	if u.Heading != nil {
		v.Heading = ptr(*u.Heading)
	}
	if u.NavStatusCode != nil {
		v.NavStatusCode = ptr(*u.NavStatusCode)
		v.Status = lookup.NavStatus(*u.NavStatusCode)
	}
	if u.DataSource != "" {
		v.DataSource = u.DataSource
	}

	v.MsgCount++
	v.UpdatedAt = now
}

// MergeType returns the type to store: a specific incoming category only
// replaces a stored placeholder.
func MergeType(stored, incoming lookup.VesselType) lookup.VesselType {
	if !stored.IsSpecific() && incoming.IsSpecific() {
		return incoming
	}
	if stored == "" {
		return lookup.Other
	}
	return stored
}

// MergeFlag returns the flag to store: a known incoming flag only replaces
// an unknown stored one.
func MergeFlag(stored, incoming string) string {
	if !lookup.IsKnownFlag(stored) && lookup.IsKnownFlag(incoming) {
		return incoming
	}
	if stored == "" {
		return lookup.UnknownFlag
	}
	return stored
}

// PositionTime is the timestamp stamped on history rows: the event time, or
// now when the event carried none.
func (u *Update) PositionTime(now time.Time) time.Time {
	if u.Timestamp.IsZero() {
		return now
	}
	return u.Timestamp
}

// PositionRecord returns the history row for u, if it carries a position.
func (u *Update) PositionRecord(now time.Time) (Position, bool) {
	if !u.HasPosition() {
		return Position{}, false
	}
	p := Position{
		MMSI:       u.MMSI,
		Latitude:   *u.Latitude,
		Longitude:  *u.Longitude,
		Timestamp:  u.PositionTime(now),
		DataSource: u.DataSource,
	}
	if u.Speed != nil {
		p.Speed = ptr(*u.Speed)
	}
	if u.Course != nil {
		p.Course = ptr(*u.Course)
	}
	if u.Heading != nil {
		p.Heading = ptr(*u.Heading)
	}
	return p, true
}

func ptr[T any](v T) *T { return &v }
