package decoder

import (
	"ais_ingest/internal/ais"
	"ais_ingest/internal/registry"
)

// staticDecoder handles both static kinds. StaticDataReport nests its fields
// under ReportA/ReportB, which the scanner reaches.
type staticDecoder struct{}

func (staticDecoder) Name() string { return "static" }

func (staticDecoder) Kinds() []string {
	return []string{ais.KindShipStaticData, ais.KindStaticDataReport}
}

func (staticDecoder) Decode(env *ais.Envelope) (registry.Result, error) {
	tree, err := searchTree(env)
	if err != nil {
		return nil, err
	}

	mmsi, err := resolveMMSI(env, tree)
	if err != nil {
		return nil, err
	}

	info := &StaticInfo{
		Kind:      env.MessageType,
		MMSI:      mmsi,
		Name:      findString(tree, "Name"),
		CallSign:  findString(tree, "CallSign"),
		Timestamp: metaTime(env),
	}
	if info.Name == nil {
		info.Name = metaName(env)
	}
	if v, ok := findValue(tree, "IMO", "ImoNumber"); ok {
		info.IMO = imoNumber(v)
	}
	if v, ok := findValue(tree, "ShipType", "Type"); ok {
		if code, ok := toInt(v); ok {
			info.ShipType = shipTypeCode(code)
		}
	}
	if info.ShipType == nil {
		info.ShipType = metaShipType(env)
	}
	if flag := findString(tree, "Flag"); flag != nil {
		info.FlagHint = *flag
	}
	return info, nil
}
