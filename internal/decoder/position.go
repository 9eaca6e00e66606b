package decoder

import (
	"fmt"
	"math"

	"ais_ingest/internal/ais"
	"ais_ingest/internal/registry"
)

type positionDecoder struct{}

func (positionDecoder) Name() string { return "position" }

func (positionDecoder) Kinds() []string {
	return []string{
		ais.KindPositionReport,
		ais.KindStandardClassBPosition,
		ais.KindExtendedClassBPosition,
	}
}

func (positionDecoder) Decode(env *ais.Envelope) (registry.Result, error) {
	body, err := bodyTree(env)
	if err != nil {
		return nil, err
	}
	tree := body
	if tree == nil {
		if tree, err = messageTree(env); err != nil {
			return nil, err
		}
	}

	mmsi, err := resolveMMSI(env, tree)
	if err != nil {
		return nil, err
	}

	var latP, lonP *float64
	lat, lon, ok := findCoords(tree)
	if !ok {
		lat, lon, ok = metaCoords(env)
	}
	if ok {
		latP, lonP = &lat, &lon
	} else {
		// A lone coordinate still updates the vessel but records no position.
		latP, lonP = partialCoords(env, tree)
	}
	if latP == nil && lonP == nil {
		return nil, fmt.Errorf("%w: %s for %d has no coordinates", ErrUnrecognized, env.MessageType, mmsi)
	}

	return &PositionUpdate{
		Kind:      env.MessageType,
		MMSI:      mmsi,
		Name:      metaName(env),
		ShipType:  metaShipType(env),
		Latitude:  latP,
		Longitude: lonP,
		Speed:     speed(body),
		Course:    course(body),
		Heading:   heading(body),
		NavStatus: navStatus(body),
		Timestamp: metaTime(env),
	}, nil
}

// metaCoords falls back to the coordinates the feed repeats in MetaData.
func metaCoords(env *ais.Envelope) (lat, lon float64, ok bool) {
	md := env.MetaData
	if md == nil || md.Latitude == nil || md.Longitude == nil {
		return 0, 0, false
	}
	if !plausible(*md.Latitude, *md.Longitude) {
		return 0, 0, false
	}
	return *md.Latitude, *md.Longitude, true
}

// partialCoords returns whichever single coordinate is in range when no
// complete pair was found, looking in the body first and then MetaData.
func partialCoords(env *ais.Envelope, tree map[string]any) (lat, lon *float64) {
	lat = findAxis(tree, 0, 90)
	lon = findAxis(tree, 1, 180)
	if md := env.MetaData; md != nil {
		if lat == nil && md.Latitude != nil && math.Abs(*md.Latitude) <= 90 {
			v := *md.Latitude
			lat = &v
		}
		if lon == nil && md.Longitude != nil && math.Abs(*md.Longitude) <= 180 {
			v := *md.Longitude
			lon = &v
		}
	}
	return lat, lon
}
