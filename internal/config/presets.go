package config

import (
	"fmt"
	"slices"
	"sort"

	"ais_ingest/internal/ais"
)

// GlobalPreset names the composite preset covering every regional one plus
// the North Atlantic.
const GlobalPreset = "global"

// DefaultPreset is used when no preset is named.
const DefaultPreset = GlobalPreset

var northAtlantic = ais.BoundingBox{{30, -80}, {60, 0}}

var presets = map[string][]ais.BoundingBox{
	"india":         {{{0, 60}, {30, 100}}},
	"singapore":     {{{-5, 95}, {10, 110}}},
	"europe":        {{{30, -10}, {45, 40}}},
	"mediterranean": {{{30, -6}, {46, 37}}},
}

func init() {
	var global []ais.BoundingBox
	for _, name := range []string{"india", "singapore", "europe"} {
		global = append(global, presets[name]...)
	}
	presets[GlobalPreset] = append(global, northAtlantic)
}

// PresetNames returns the built-in preset names plus any in extra, sorted.
func PresetNames(extra map[string][]ais.BoundingBox) []string {
	names := make([]string, 0, len(presets)+len(extra))
	for name := range presets {
		names = append(names, name)
	}
	for name := range extra {
		if _, ok := presets[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Boxes resolves a preset name. Presets in extra shadow built-in ones. The
// returned slice is a copy.
func Boxes(name string, extra map[string][]ais.BoundingBox) ([]ais.BoundingBox, error) {
	if boxes, ok := extra[name]; ok {
		return slices.Clone(boxes), nil
	}
	if boxes, ok := presets[name]; ok {
		return slices.Clone(boxes), nil
	}
	return nil, fmt.Errorf("unknown preset %q", name)
}
