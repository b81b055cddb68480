package offer

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Views over the upstream offer JSON. Only the fields the normalizer reads are
// declared; the raw bytes are what travels back to the GDS.

type rawOffer struct {
	ID                       string             `json:"id"`
	ValidatingAirlineCodes   []string           `json:"validatingAirlineCodes"`
	InstantTicketingRequired bool               `json:"instantTicketingRequired"`
	LastTicketingDate        *string            `json:"lastTicketingDate"`
	IsUpsellOffer            bool               `json:"isUpsellOffer"`
	NumberOfBookableSeats    *int               `json:"numberOfBookableSeats"`
	Refundable               *string            `json:"refundable"`
	AirlineName              *string            `json:"airline_name"`
	Price                    rawPrice           `json:"price"`
	PricingOptions           rawPricingOptions  `json:"pricingOptions"`
	Itineraries              []rawItinerary     `json:"itineraries"`
	TravelerPricings         []rawTravelerPrice `json:"travelerPricings"`
}

type rawPrice struct {
	Currency   string     `json:"currency"`
	Total      flexFloat  `json:"total"`
	Base       flexFloat  `json:"base"`
	GrandTotal *flexFloat `json:"grandTotal"`
}

type rawPricingOptions struct {
	FareType                []string `json:"fareType"`
	IncludedCheckedBagsOnly bool     `json:"includedCheckedBagsOnly"`
}

type rawItinerary struct {
	Duration string       `json:"duration"`
	Segments []rawSegment `json:"segments"`
}

type rawSegment struct {
	ID          string      `json:"id"`
	Departure   rawEndpoint `json:"departure"`
	Arrival     rawEndpoint `json:"arrival"`
	CarrierCode string      `json:"carrierCode"`
	Number      *string     `json:"number"`
	Aircraft    struct {
		Code *string `json:"code"`
	} `json:"aircraft"`
	Operating struct {
		CarrierCode string `json:"carrierCode"`
	} `json:"operating"`
	Duration string `json:"duration"`
}

type rawEndpoint struct {
	IATACode string  `json:"iataCode"`
	Terminal *string `json:"terminal"`
	At       string  `json:"at"`
}

type rawTravelerPrice struct {
	TravelerID   string `json:"travelerId"`
	TravelerType string `json:"travelerType"`
	FareOption   string `json:"fareOption"`
	Price        struct {
		Total flexFloat `json:"total"`
		Base  flexFloat `json:"base"`
	} `json:"price"`
	FareDetailsBySegment []rawFareDetail `json:"fareDetailsBySegment"`
}

type rawFareDetail struct {
	SegmentID        string       `json:"segmentId"`
	BrandedFareLabel *string      `json:"brandedFareLabel"`
	FareBasis        string       `json:"fareBasis"`
	Cabin            *string      `json:"cabin"`
	Class            *string      `json:"class"`
	Amenities        []rawAmenity `json:"amenities"`
}

type rawAmenity struct {
	AmenityType  string `json:"amenityType"`
	Description  string `json:"description"`
	IsChargeable bool   `json:"isChargeable"`
}

// flexFloat reads upstream amounts, which arrive as decimal strings ("123.45")
// but are occasionally plain numbers.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// QuotedTotal returns the amount an offer was quoted at (grandTotal when
// present, else total) and its currency. ok is false when the offer carries
// no usable price.
func QuotedTotal(raw json.RawMessage) (total float64, currency string, ok bool) {
	var o struct {
		Price rawPrice `json:"price"`
	}
	if err := json.Unmarshal(raw, &o); err != nil {
		return 0, "", false
	}
	total = float64(o.Price.Total)
	if o.Price.GrandTotal != nil && *o.Price.GrandTotal > 0 {
		total = float64(*o.Price.GrandTotal)
	}
	return total, o.Price.Currency, total > 0
}
