package ingest

import (
	"ais_ingest/internal/classify"
	"ais_ingest/internal/decoder"
	"ais_ingest/internal/registry"
	"ais_ingest/internal/vessel"
)

// ToUpdate classifies a decoded event and turns it into the partial update
// applied by the store. ok is false for event types the store ignores.
func ToUpdate(res registry.Result, dataSource string) (u vessel.Update, ok bool) {
	switch e := res.(type) {
	case *decoder.PositionUpdate:
		c := classify.Classify(classify.Input{
			MMSI:         e.MMSI,
			ShipTypeCode: e.ShipType,
			Name:         deref(e.Name),
		})
		return vessel.Update{
			MMSI:          e.MMSI,
			Name:          e.Name,
			VesselType:    c.VesselType,
			Flag:          c.Flag,
			Latitude:      e.Latitude,
			Longitude:     e.Longitude,
			Speed:         e.Speed,
			Course:        e.Course,
			Heading:       e.Heading,
			NavStatusCode: e.NavStatus,
			Timestamp:     e.Timestamp,
			DataSource:    dataSource,
		}, true

	case *decoder.StaticInfo:
		c := classify.Classify(classify.Input{
			MMSI:         e.MMSI,
			ShipTypeCode: e.ShipType,
			Name:         deref(e.Name),
			FlagHint:     e.FlagHint,
		})
		return vessel.Update{
			MMSI:       e.MMSI,
			Name:       e.Name,
			IMONumber:  e.IMO,
			CallSign:   e.CallSign,
			VesselType: c.VesselType,
			Flag:       c.Flag,
			Timestamp:  e.Timestamp,
			DataSource: dataSource,
		}, true
	}
	return vessel.Update{}, false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
