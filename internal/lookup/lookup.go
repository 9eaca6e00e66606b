// Package lookup holds the static classification tables used while ingesting
// the AIS feed: navigation status codes, ship type codes, MMSI country
// prefixes and name keywords. The tables are built once at package init and
// only exposed through read-only accessors.
package lookup

// VesselType is the coarse vessel category stored on a vessel snapshot.
type VesselType string

const (
	Cargo     VesselType = "Cargo"
	Tanker    VesselType = "Tanker"
	Passenger VesselType = "Passenger"
	Fishing   VesselType = "Fishing"
	Sailing   VesselType = "Sailing"
	Tug       VesselType = "Tug"
	Other     VesselType = "Other"
)

// UnknownFlag is the flag value used when no country can be derived.
const UnknownFlag = "Unknown"

// StatusActive is the fallback navigation status for unmapped or absent codes.
const StatusActive = "active"

// IsSpecific reports whether t is a concrete category rather than the
// generic placeholder.
func (t VesselType) IsSpecific() bool {
	switch t {
	case Cargo, Tanker, Passenger, Fishing, Sailing, Tug:
		return true
	}
	return false
}

// ParseVesselType maps a stored string back to a VesselType. Anything
// unrecognised becomes Other.
func ParseVesselType(s string) VesselType {
	t := VesselType(s)
	if t.IsSpecific() {
		return t
	}
	return Other
}

// IsKnownFlag reports whether flag carries a real country code.
func IsKnownFlag(flag string) bool {
	return flag != "" && flag != UnknownFlag
}
