package domain

// Instrument is one row of the broker's instrument master feed.
type Instrument struct {
	Exchange       string `json:"exchange"`
	Segment        string `json:"segment"`
	SecurityID     string `json:"security_id"`
	Symbol         string `json:"symbol"`
	DisplayName    string `json:"display_name"`
	InstrumentType string `json:"instrument_type"`
}
