package geo

import (
	"strconv"
	"time"
	_ "time/tzdata"
)

const DefaultTimezone = "America/New_York"

type tzBand struct {
	start, end int
	tz         string
}

// tzBands maps inclusive 3-digit ZIP prefix ranges to IANA zones. Earlier bands win, so the
// narrow exceptions sit above the state-wide ranges they cut into.
var tzBands = []tzBand{
	{967, 968, "Pacific/Honolulu"},
	{995, 999, "America/Anchorage"},
	{850, 865, "America/Phoenix"},
	{798, 799, "America/Denver"},
	{889, 898, "America/Los_Angeles"},
	{900, 961, "America/Los_Angeles"},
	{970, 994, "America/Los_Angeles"},
	{800, 816, "America/Denver"},
	{820, 847, "America/Denver"},
	{870, 884, "America/Denver"},
	{590, 599, "America/Denver"},
	{324, 325, "America/Chicago"},
	{350, 369, "America/Chicago"},
	{370, 372, "America/Chicago"},
	{380, 397, "America/Chicago"},
	{498, 499, "America/Chicago"},
	{500, 588, "America/Chicago"},
	{600, 693, "America/Chicago"},
	{700, 797, "America/Chicago"},
}

var locations = map[string]*time.Location{}

func init() {
	for _, name := range append([]string{DefaultTimezone}, bandZones()...) {
		if _, ok := locations[name]; ok {
			continue
		}
		loc, err := time.LoadLocation(name)
		if err != nil {
			panic("geo: missing timezone " + name + ": " + err.Error())
		}
		locations[name] = loc
	}
}

func bandZones() []string {
	zones := make([]string, len(tzBands))
	for i, b := range tzBands {
		zones[i] = b.tz
	}
	return zones
}

// TimezoneForZip derives the IANA zone name from the ZIP's leading three digits.
// Anything unmatched, including malformed input, is Eastern.
func TimezoneForZip(zip string) string {
	if len(zip) < 3 {
		return DefaultTimezone
	}
	prefix, err := strconv.Atoi(zip[:3])
	if err != nil {
		return DefaultTimezone
	}
	for _, b := range tzBands {
		if prefix >= b.start && prefix <= b.end {
			return b.tz
		}
	}
	return DefaultTimezone
}

func LocationForZip(zip string) *time.Location {
	return locations[TimezoneForZip(zip)]
}

// LocalHour is the wall-clock hour at the lead's ZIP at instant now.
func LocalHour(zip string, now time.Time) int {
	return now.In(LocationForZip(zip)).Hour()
}

// WithinCallingHours reports whether the local hour at zip lies in [startHour, endHour).
func WithinCallingHours(zip string, now time.Time, startHour, endHour int) bool {
	h := LocalHour(zip, now)
	return h >= startHour && h < endHour
}
