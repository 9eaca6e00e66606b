package decoder

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"ais_ingest/internal/ais"
)

const maxMMSI = 999_999_999

// Sentinel values the feed uses for "not available".
const (
	headingUnavailable = 511
	speedUnavailable   = 102.3
	courseUnavailable  = 360.0
)

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05 -0700 MST",
	time.RFC3339Nano,
}

// parseTime parses the feed's time_utc value. Unparseable values yield the
// zero time.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// bodyTree decodes the body for the envelope's own kind. A missing body
// returns (nil, nil).
func bodyTree(env *ais.Envelope) (map[string]any, error) {
	raw := env.Body()
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	tree, err := ais.DecodeTree(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrMalformed, err)
	}
	m, ok := tree.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: body is %T", ErrMalformed, tree)
	}
	return m, nil
}

// messageTree decodes the whole Message object, for when the body keyed by
// MessageType is absent.
func messageTree(env *ais.Envelope) (map[string]any, error) {
	out := make(map[string]any, len(env.Message))
	for k, raw := range env.Message {
		tree, err := ais.DecodeTree(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: message %q: %v", ErrMalformed, k, err)
		}
		out[k] = tree
	}
	return out, nil
}

// searchTree returns the body if present, otherwise the whole Message object.
func searchTree(env *ais.Envelope) (map[string]any, error) {
	body, err := bodyTree(env)
	if err != nil || body != nil {
		return body, err
	}
	return messageTree(env)
}

// resolveMMSI takes the MMSI from MetaData, falling back to the body's
// UserID field.
func resolveMMSI(env *ais.Envelope, tree map[string]any) (int64, error) {
	var mmsi int64
	if env.MetaData != nil {
		mmsi = int64(env.MetaData.MMSI)
	}
	if mmsi == 0 && tree != nil {
		if v, ok := findValue(tree, "UserID"); ok {
			if n, ok := toInt(v); ok {
				mmsi = int64(n)
			}
		}
	}
	if mmsi <= 0 || mmsi > maxMMSI {
		return 0, fmt.Errorf("%w: invalid MMSI %d", ErrUnrecognized, mmsi)
	}
	return mmsi, nil
}

// metaName returns the trimmed MetaData ship name.
func metaName(env *ais.Envelope) *string {
	if env.MetaData == nil {
		return nil
	}
	return cleanString(env.MetaData.ShipName)
}

func metaShipType(env *ais.Envelope) *int {
	if env.MetaData == nil || env.MetaData.ShipType == nil {
		return nil
	}
	return shipTypeCode(int(*env.MetaData.ShipType))
}

func metaTime(env *ais.Envelope) time.Time {
	if env.MetaData == nil {
		return time.Time{}
	}
	return parseTime(env.MetaData.TimeUTC)
}

// cleanString trims padding the feed leaves in fixed-width text fields.
// Empty results are absent.
func cleanString(s string) *string {
	s = strings.TrimRight(s, "@ ")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func shipTypeCode(code int) *int {
	if code <= 0 || code > 255 {
		return nil
	}
	return &code
}

// toFloat accepts json.Number, float64 and numeric strings.
func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// toInt accepts integral numbers only.
func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func floatField(m map[string]any, key string) *float64 {
	if m == nil {
		return nil
	}
	f, ok := toFloat(m[key])
	if !ok {
		return nil
	}
	return &f
}

func intField(m map[string]any, key string) *int {
	if m == nil {
		return nil
	}
	n, ok := toInt(m[key])
	if !ok {
		return nil
	}
	return &n
}

func speed(m map[string]any) *float64 {
	v := floatField(m, "Sog")
	if v == nil || *v < 0 || *v >= speedUnavailable {
		return nil
	}
	return v
}

func course(m map[string]any) *float64 {
	v := floatField(m, "Cog")
	if v == nil || *v < 0 || *v >= courseUnavailable {
		return nil
	}
	return v
}

func heading(m map[string]any) *int {
	v := intField(m, "TrueHeading")
	if v == nil || *v == headingUnavailable || *v < 0 || *v >= 360 {
		return nil
	}
	return v
}

func navStatus(m map[string]any) *int {
	v := intField(m, "NavigationalStatus")
	if v == nil || *v < 0 || *v > 15 {
		return nil
	}
	return v
}

// imoNumber normalizes an IMO value to "IMO<digits>". Zero is absent.
func imoNumber(v any) *string {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(strings.ToUpper(s))
		s = strings.TrimSpace(strings.TrimPrefix(s, "IMO"))
		v = s
	}
	n, ok := toInt(v)
	if !ok || n <= 0 {
		return nil
	}
	out := "IMO" + strconv.Itoa(n)
	return &out
}
