package lookup

import "strings"

// keywordList is one category's name keywords.
type keywordList struct {
	Type     VesselType
	Keywords []string
}

// nameKeywords is evaluated in order; the first category with a hit wins.
var nameKeywords = []keywordList{
	{Cargo, []string{"MAERSK", "MSC", "COSCO", "EVERGREEN", "CMA", "HAPAG", "CONTAINER", "CARGO", "FREIGHT", "EXPRESS", "BULK", "GENERAL"}},
	{Tanker, []string{"TANKER", "OIL", "CHEMICAL", "GAS", "LNG", "LPG", "VLCC", "PETROLEUM", "CRUDE", "PRODUCT", "AFRAMAX"}},
	{Passenger, []string{"QUEEN", "SPIRIT", "CARNIVAL", "ROYAL", "PRINCESS", "HARMONY", "CRUISE", "FERRY", "PASSENGER", "STAR", "DREAM"}},
	{Fishing, []string{"FISHING", "TRAWLER", "F/V", "FV ", "SEINER"}},
	{Tug, []string{"TUG", "TOWBOAT", "PUSHER"}},
	{Sailing, []string{"SAIL", "YACHT", "SCHOONER"}},
}

// MatchName returns the first category whose keyword list contains a
// case-insensitive substring of name.
func MatchName(name string) (VesselType, bool) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if upper == "" {
		return Other, false
	}
	for _, kl := range nameKeywords {
		for _, kw := range kl.Keywords {
			if strings.Contains(upper, kw) {
				return kl.Type, true
			}
		}
	}
	return Other, false
}
