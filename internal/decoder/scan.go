package decoder

import "sort"

// The scanner is a best-effort fallback for feed versions that move the
// coordinates or static fields into a different container. It walks the
// tree breadth-first, visiting keys in sorted order so the first match is
// deterministic, and gives up after maxScanDepth levels or maxScanNodes
// containers.
const (
	maxScanDepth = 4
	maxScanNodes = 256
)

// coordKeys are the latitude/longitude key pairs recognized, in order.
var coordKeys = [][2]string{
	{"Latitude", "Longitude"},
	{"latitude", "longitude"},
	{"Lat", "Lon"},
	{"lat", "lon"},
}

type scanNode struct {
	value any
	depth int
}

// walk visits every map in the tree breadth-first until visit returns true.
func walk(root any, visit func(m map[string]any) bool) bool {
	queue := []scanNode{{value: root}}
	visited := 0
	for len(queue) > 0 && visited < maxScanNodes {
		n := queue[0]
		queue = queue[1:]
		visited++

		var children []any
		switch v := n.value.(type) {
		case map[string]any:
			if visit(v) {
				return true
			}
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				children = append(children, v[k])
			}
		case []any:
			children = v
		default:
			continue
		}

		if n.depth >= maxScanDepth {
			continue
		}
		for _, c := range children {
			switch c.(type) {
			case map[string]any, []any:
				queue = append(queue, scanNode{value: c, depth: n.depth + 1})
			}
		}
	}
	return false
}

// findCoords returns the first plausible latitude/longitude pair in the tree.
func findCoords(root any) (lat, lon float64, ok bool) {
	walk(root, func(m map[string]any) bool {
		for _, pair := range coordKeys {
			la, okLat := toFloat(m[pair[0]])
			lo, okLon := toFloat(m[pair[1]])
			if okLat && okLon && plausible(la, lo) {
				lat, lon, ok = la, lo, true
				return true
			}
		}
		return false
	})
	return lat, lon, ok
}

// findAxis returns the first value within [-limit, limit] stored under the
// latitude (axis 0) or longitude (axis 1) key of any coordKeys pair.
func findAxis(root any, axis int, limit float64) *float64 {
	var out *float64
	walk(root, func(m map[string]any) bool {
		for _, pair := range coordKeys {
			if v, ok := toFloat(m[pair[axis]]); ok && v >= -limit && v <= limit {
				out = &v
				return true
			}
		}
		return false
	})
	return out
}

// plausible rejects out-of-range values, which also covers the feed's
// 91/181 "not available" sentinels.
func plausible(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// findValue returns the value of the first key found, trying keys in order
// at each container before descending.
func findValue(root any, keys ...string) (any, bool) {
	var (
		found any
		ok    bool
	)
	walk(root, func(m map[string]any) bool {
		for _, k := range keys {
			if v, exists := m[k]; exists && v != nil {
				found, ok = v, true
				return true
			}
		}
		return false
	})
	return found, ok
}

// findString returns the first non-empty string value for any of keys.
func findString(root any, keys ...string) *string {
	var out *string
	walk(root, func(m map[string]any) bool {
		for _, k := range keys {
			if s, isStr := m[k].(string); isStr {
				if c := cleanString(s); c != nil {
					out = c
					return true
				}
			}
		}
		return false
	})
	return out
}
