package lookup

// exactShipTypes covers the specific codes that do not follow the decade
// buckets (tugs, fishing, sailing, special craft).
var exactShipTypes = map[int]VesselType{
	30: Fishing,
	31: Tug,
	32: Tug,
	36: Sailing,
	37: Sailing,
	50: Other,
	51: Other,
	52: Tug,
}

// ShipType resolves an AIS ship-and-cargo type code: exact codes first, then
// the decade buckets 60-69 Passenger, 70-79 Cargo, 80-89 Tanker. Anything
// else is Other.
func ShipType(code int) VesselType {
	if t, ok := exactShipTypes[code]; ok {
		return t
	}
	switch {
	case code >= 60 && code <= 69:
		return Passenger
	case code >= 70 && code <= 79:
		return Cargo
	case code >= 80 && code <= 89:
		return Tanker
	}
	return Other
}
