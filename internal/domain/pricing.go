package domain

import (
	"encoding/json"
	"time"
)

// PricingSnapshot is the append-only record of one successful pricing call.
type PricingSnapshot struct {
	ID                int64
	UniqueKey         string
	FullOfferEncoded  string
	FlightOffer       json.RawMessage
	PricingResponse   json.RawMessage
	SeatmapResponse   json.RawMessage
	AncillaryResponse json.RawMessage
	CreatedAt         time.Time
}
