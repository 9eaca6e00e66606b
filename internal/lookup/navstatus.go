package lookup

var navStatus = map[int]string{
	0:  "underway",
	1:  "anchored",
	2:  "inactive",
	3:  "inactive",
	4:  "underway",
	5:  "moored",
	6:  "aground",
	7:  "fishing",
	8:  "underway",
	15: "inactive",
}

// NavStatus translates a raw AIS navigational status code into the textual
// status stored on the vessel. Unmapped codes fall back to StatusActive.
func NavStatus(code int) string {
	if s, ok := navStatus[code]; ok {
		return s
	}
	return StatusActive
}
