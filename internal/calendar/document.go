package calendar

// Document is a calendar split into its three sections. The zero value is
// not a valid document; obtain one from Grammar.Parse or Grammar.Compose.
type Document struct {
	header string
	body   string
	footer string
	text   string
}

// Header is everything from the open marker through the end of the prologue
// (typically BEGIN:VCALENDAR ... END:VTIMEZONE).
func (d Document) Header() string { return d.header }

// Body is the run of entries (VEVENT blocks), possibly empty.
func (d Document) Body() string { return d.body }

// Footer is the closing marker, probably just END:VCALENDAR.
func (d Document) Footer() string { return d.footer }

// Text is the complete calendar data as parsed.
func (d Document) Text() string { return d.text }
