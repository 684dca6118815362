package calendar

import (
	"strings"

	ical "github.com/arran4/golang-ical"
)

// Summary describes the components of a calendar. It is informational only;
// nothing in the merge depends on it.
type Summary struct {
	ProdID    string `json:"prod_id,omitempty"`
	Events    int    `json:"events"`
	Timezones int    `json:"timezones"`
	// DuplicateUIDs counts events whose UID was already seen, e.g. an
	// appointment exported in two consecutive months.
	DuplicateUIDs int `json:"duplicate_uids"`
}

// Inspect parses text with a full iCalendar parser and counts what it finds.
func Inspect(text string) (Summary, error) {
	cal, err := ical.ParseCalendar(strings.NewReader(text))
	if err != nil {
		return Summary{}, err
	}

	var s Summary
	for _, p := range cal.CalendarProperties {
		if p.IANAToken == string(ical.PropertyProductId) {
			s.ProdID = p.Value
		}
	}

	seen := make(map[string]bool)
	for _, comp := range cal.Components {
		switch c := comp.(type) {
		case *ical.VEvent:
			s.Events++
			uid := c.GetProperty(ical.ComponentPropertyUniqueId)
			if uid == nil || uid.Value == "" {
				continue
			}
			if seen[uid.Value] {
				s.DuplicateUIDs++
			}
			seen[uid.Value] = true
		case *ical.VTimezone:
			s.Timezones++
		}
	}
	return s, nil
}
