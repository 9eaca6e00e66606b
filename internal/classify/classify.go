// Package classify derives an advisory vessel type and flag for a decoded
// event. The result only ever fills placeholder fields on the stored
// snapshot, so every function here is total: there is always an answer.
package classify

import (
	"strings"

	"ais_ingest/internal/lookup"
)

// Input is the subset of a decoded event the classifier looks at.
type Input struct {
	MMSI         int64
	ShipTypeCode *int
	Name         string
	FlagHint     string
}

// Result is the advisory (type, flag) pair.
type Result struct {
	VesselType lookup.VesselType
	Flag       string
}

// Classify runs the type waterfall and the flag lookup.
func Classify(in Input) Result {
	return Result{
		VesselType: VesselType(in.ShipTypeCode, in.Name),
		Flag:       Flag(in.MMSI, in.FlagHint),
	}
}

// VesselType evaluates, in order: the explicit ship type code, the name
// keyword lists, and finally Other.
func VesselType(code *int, name string) lookup.VesselType {
	if code != nil {
		if t := lookup.ShipType(*code); t.IsSpecific() {
			return t
		}
	}
	if t, ok := lookup.MatchName(name); ok {
		return t
	}
	return lookup.Other
}

// Flag prefers an explicit two or three letter hint from a static report and
// otherwise looks up the MMSI's Maritime Identification Digits.
func Flag(mmsi int64, hint string) string {
	hint = strings.ToUpper(strings.TrimSpace(hint))
	if len(hint) >= 2 && len(hint) <= 3 && isAlpha(hint) {
		return hint
	}
	return lookup.FlagForMMSI(mmsi)
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
