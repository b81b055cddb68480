// Package offer maps raw GDS flight offers to the caller-facing shape and
// carries the opaque offer token used to come back for pricing.
package offer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/Domenick1991/skyorder/internal/domain"
)

const (
	airlineLogoURL     = "https://logos.skyscnr.com/images/airlines/favicon/%s.png"
	defaultRefundable  = "Partially Refundable"
	defaultCurrency    = "USD"
	unknownAirlineCode = "XX"

	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

var durationPattern = regexp.MustCompile(`PT(?:(\d+)H)?(?:(\d+)M)?`)

// upstream timestamps are local to the airport and carry no zone
var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.RFC3339,
	"2006-01-02 15:04:05",
	dateLayout,
}

type NormalizedOffer struct {
	ID                       string
	ValidatingAirlineCodes   []string
	InstantTicketingRequired bool
	LastTicketingDate        *string
	IsOneWay                 bool
	IsUpsellOffer            bool
	NumberOfSeats            *int
	Refundable               string
	Airline                  string
	AirlineLogo              string
	Price                    float64
	BasePrice                float64
	GrandTotal               float64
	Currency                 string
	FareType                 []string
	IncludedCheckedBagsOnly  bool
	DealType                 domain.TripShape
	TotalDuration            string
	TravelerPricing          []TravelerPricing

	// Legs is set for multi-destination offers, Outbound/Return otherwise.
	Legs     []Itinerary
	Outbound *Itinerary
	Return   *Itinerary

	FullOfferEncoded string
}

type Itinerary struct {
	From          *string      `json:"from"`
	To            *string      `json:"to"`
	DepartureDate *string      `json:"departureDate"`
	DepartureTime *string      `json:"departureTime"`
	ArrivalDate   *string      `json:"arrivalDate"`
	ArrivalTime   *string      `json:"arrivalTime"`
	Duration      *string      `json:"duration"`
	NumberOfStops int          `json:"numberOfStops"`
	NonStop       bool         `json:"nonStop"`
	Segments      []Segment    `json:"segments"`
	StopsDetails  []StopDetail `json:"stopsDetails"`
	Label         string       `json:"label"`
}

type Segment struct {
	DepartureAirport string           `json:"departureAirport"`
	DepartureTime    *string          `json:"departureTime"`
	ArrivalAirport   string           `json:"arrivalAirport"`
	ArrivalTime      *string          `json:"arrivalTime"`
	TerminalFrom     *string          `json:"terminalFrom"`
	TerminalTo       *string          `json:"terminalTo"`
	FlightNumber     *string          `json:"flightNumber"`
	CarrierCode      string           `json:"carrierCode"`
	OperatingCarrier string           `json:"operatingCarrier"`
	AircraftCode     *string          `json:"aircraftCode"`
	Duration         *string          `json:"duration"`
	BrandedFare      *string          `json:"brandedFare"`
	TravelClass      *string          `json:"travelClass"`
	Cabin            *string          `json:"cabin"`
	Amenities        []SegmentAmenity `json:"amenities"`
}

type SegmentAmenity struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Chargeable  bool   `json:"chargeable"`
}

// StopDetail describes an intermediate stop. LayoverDuration is the duration
// of the segment leaving the stop, as the GDS does not report ground time.
type StopDetail struct {
	StopNumber         int     `json:"stopNumber"`
	AirportCode        string  `json:"airportCode"`
	LayoverDuration    *string `json:"layoverDuration"`
	LayoverAirportName string  `json:"layoverAirportName"`
}

type TravelerPricing struct {
	TravelerID           string       `json:"travelerId"`
	TravelerType         string       `json:"travelerType"`
	FareOption           string       `json:"fareOption"`
	TotalPrice           float64      `json:"totalPrice"`
	BasePrice            float64      `json:"basePrice"`
	FareDetailsBySegment []FareDetail `json:"fareDetailsBySegment"`
}

type FareDetail struct {
	SegmentID   string        `json:"segmentId"`
	BrandedFare *string       `json:"brandedFare"`
	FareBasis   string        `json:"fareBasis"`
	Cabin       *string       `json:"cabin"`
	Class       *string       `json:"class"`
	Amenities   []FareAmenity `json:"amenities"`
}

type FareAmenity struct {
	Type         string `json:"type"`
	Description  string `json:"description"`
	IsChargeable bool   `json:"isChargeable"`
}

// Normalize maps one raw upstream offer. The raw bytes are kept verbatim in
// FullOfferEncoded.
func Normalize(raw json.RawMessage) (*NormalizedOffer, error) {
	var src rawOffer
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, &domain.InvalidOfferDataError{Reason: err.Error()}
	}
	encoded, err := Encode(raw)
	if err != nil {
		return nil, err
	}

	airlineCode := unknownAirlineCode
	if len(src.Itineraries) > 0 && len(src.Itineraries[0].Segments) > 0 && src.Itineraries[0].Segments[0].CarrierCode != "" {
		airlineCode = src.Itineraries[0].Segments[0].CarrierCode
	}
	deal := DealType(len(src.Itineraries))

	n := &NormalizedOffer{
		ID:                       src.ID,
		ValidatingAirlineCodes:   nonNil(src.ValidatingAirlineCodes),
		InstantTicketingRequired: src.InstantTicketingRequired,
		LastTicketingDate:        src.LastTicketingDate,
		IsOneWay:                 deal == domain.TripShapeOneWay,
		IsUpsellOffer:            src.IsUpsellOffer,
		NumberOfSeats:            src.NumberOfBookableSeats,
		Refundable:               defaultRefundable,
		Airline:                  airlineCode,
		AirlineLogo:              fmt.Sprintf(airlineLogoURL, airlineCode),
		Price:                    float64(src.Price.Total),
		BasePrice:                float64(src.Price.Base),
		GrandTotal:               float64(src.Price.Total),
		Currency:                 defaultCurrency,
		FareType:                 nonNil(src.PricingOptions.FareType),
		IncludedCheckedBagsOnly:  src.PricingOptions.IncludedCheckedBagsOnly,
		DealType:                 deal,
		TotalDuration:            totalDuration(src.Itineraries),
		TravelerPricing:          mapTravelerPricing(src.TravelerPricings),
		FullOfferEncoded:         encoded,
	}
	if src.Refundable != nil {
		n.Refundable = *src.Refundable
	}
	if src.AirlineName != nil && *src.AirlineName != "" {
		n.Airline = *src.AirlineName
	}
	if src.Price.GrandTotal != nil {
		n.GrandTotal = float64(*src.Price.GrandTotal)
	}
	if src.Price.Currency != "" {
		n.Currency = src.Price.Currency
	}

	var fareDetails []rawFareDetail
	if len(src.TravelerPricings) > 0 {
		fareDetails = src.TravelerPricings[0].FareDetailsBySegment
	}

	if deal == domain.TripShapeMultiDestination {
		n.Legs = make([]Itinerary, 0, len(src.Itineraries))
		for i, it := range src.Itineraries {
			n.Legs = append(n.Legs, mapItinerary(it, fareDetails, fmt.Sprintf("Flight %d", i+1)))
		}
		return n, nil
	}

	var outbound rawItinerary
	if len(src.Itineraries) > 0 {
		outbound = src.Itineraries[0]
	}
	out := mapItinerary(outbound, fareDetails, "Outbound")
	n.Outbound = &out
	if deal == domain.TripShapeRoundTrip {
		ret := mapItinerary(src.Itineraries[1], fareDetails, "Return")
		n.Return = &ret
	}
	return n, nil
}

// NormalizeAll maps a search result list, preserving upstream order.
func NormalizeAll(raws []json.RawMessage) ([]*NormalizedOffer, error) {
	out := make([]*NormalizedOffer, 0, len(raws))
	for i, raw := range raws {
		n, err := Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("offer %d: %w", i, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// DealType derives the trip shape from the itinerary count.
func DealType(itineraries int) domain.TripShape {
	switch {
	case itineraries == 1:
		return domain.TripShapeOneWay
	case itineraries == 2:
		return domain.TripShapeRoundTrip
	case itineraries > 2:
		return domain.TripShapeMultiDestination
	default:
		return domain.TripShapeUnknown
	}
}

// Fields returns the offer as a JSON object keyed by caller-facing names.
// Multi-destination offers expose "legs"; others expose "outbound" and a
// "return" that is null unless the offer is a round trip.
func (n *NormalizedOffer) Fields() map[string]any {
	f := map[string]any{
		"id":                       n.ID,
		"validatingAirlineCodes":   n.ValidatingAirlineCodes,
		"instantTicketingRequired": n.InstantTicketingRequired,
		"lastTicketingDate":        n.LastTicketingDate,
		"isOneWay":                 n.IsOneWay,
		"isUpsellOffer":            n.IsUpsellOffer,
		"numberOfSeats":            n.NumberOfSeats,
		"refundable":               n.Refundable,
		"airline":                  n.Airline,
		"airlineLogo":              n.AirlineLogo,
		"price":                    n.Price,
		"basePrice":                n.BasePrice,
		"grandTotal":               n.GrandTotal,
		"currency":                 n.Currency,
		"fareType":                 n.FareType,
		"includedCheckedBagsOnly":  n.IncludedCheckedBagsOnly,
		"dealType":                 n.DealType,
		"totalDuration":            n.TotalDuration,
		"travelerPricing":          n.TravelerPricing,
		"full_offer_encoded":       n.FullOfferEncoded,
	}
	if n.DealType == domain.TripShapeMultiDestination {
		f["legs"] = n.Legs
	} else {
		f["outbound"] = n.Outbound
		f["return"] = n.Return
	}
	return f
}

func (n *NormalizedOffer) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Fields())
}

func mapItinerary(it rawItinerary, fareDetails []rawFareDetail, label string) Itinerary {
	out := Itinerary{
		Duration:     formatDuration(it.Duration),
		NonStop:      len(it.Segments) == 1,
		Segments:     make([]Segment, 0, len(it.Segments)),
		StopsDetails: []StopDetail{},
		Label:        label,
	}
	if len(it.Segments) > 0 {
		first, last := it.Segments[0], it.Segments[len(it.Segments)-1]
		out.From = &first.Departure.IATACode
		out.To = &last.Arrival.IATACode
		out.DepartureDate = formatTimestamp(first.Departure.At, dateLayout)
		out.DepartureTime = formatTimestamp(first.Departure.At, timeLayout)
		out.ArrivalDate = formatTimestamp(last.Arrival.At, dateLayout)
		out.ArrivalTime = formatTimestamp(last.Arrival.At, timeLayout)
		out.NumberOfStops = len(it.Segments) - 1
	}

	for i, seg := range it.Segments {
		operating := seg.Operating.CarrierCode
		if operating == "" {
			operating = seg.CarrierCode
		}
		s := Segment{
			DepartureAirport: seg.Departure.IATACode,
			DepartureTime:    formatTimestamp(seg.Departure.At, timeLayout),
			ArrivalAirport:   seg.Arrival.IATACode,
			ArrivalTime:      formatTimestamp(seg.Arrival.At, timeLayout),
			TerminalFrom:     seg.Departure.Terminal,
			TerminalTo:       seg.Arrival.Terminal,
			FlightNumber:     seg.Number,
			CarrierCode:      seg.CarrierCode,
			OperatingCarrier: operating,
			AircraftCode:     seg.Aircraft.Code,
			Duration:         formatDuration(seg.Duration),
			Amenities:        []SegmentAmenity{},
		}
		if fd := findFareDetail(fareDetails, seg.ID); fd != nil {
			s.BrandedFare = fd.BrandedFareLabel
			s.TravelClass = fd.Class
			s.Cabin = fd.Cabin
			for _, a := range fd.Amenities {
				s.Amenities = append(s.Amenities, SegmentAmenity{Type: a.AmenityType, Description: a.Description, Chargeable: a.IsChargeable})
			}
		}
		out.Segments = append(out.Segments, s)

		if i > 0 {
			out.StopsDetails = append(out.StopsDetails, StopDetail{
				StopNumber:         i,
				AirportCode:        seg.Departure.IATACode,
				LayoverDuration:    formatDuration(seg.Duration),
				LayoverAirportName: seg.Departure.IATACode,
			})
		}
	}
	return out
}

func mapTravelerPricing(src []rawTravelerPrice) []TravelerPricing {
	out := make([]TravelerPricing, 0, len(src))
	for _, tp := range src {
		p := TravelerPricing{
			TravelerID:           tp.TravelerID,
			TravelerType:         tp.TravelerType,
			FareOption:           tp.FareOption,
			TotalPrice:           float64(tp.Price.Total),
			BasePrice:            float64(tp.Price.Base),
			FareDetailsBySegment: make([]FareDetail, 0, len(tp.FareDetailsBySegment)),
		}
		for _, fd := range tp.FareDetailsBySegment {
			d := FareDetail{
				SegmentID:   fd.SegmentID,
				BrandedFare: fd.BrandedFareLabel,
				FareBasis:   fd.FareBasis,
				Cabin:       fd.Cabin,
				Class:       fd.Class,
				Amenities:   make([]FareAmenity, 0, len(fd.Amenities)),
			}
			for _, a := range fd.Amenities {
				d.Amenities = append(d.Amenities, FareAmenity{Type: a.AmenityType, Description: a.Description, IsChargeable: a.IsChargeable})
			}
			p.FareDetailsBySegment = append(p.FareDetailsBySegment, d)
		}
		out = append(out, p)
	}
	return out
}

func findFareDetail(details []rawFareDetail, segmentID string) *rawFareDetail {
	if segmentID == "" {
		return nil
	}
	for i := range details {
		if details[i].SegmentID == segmentID {
			return &details[i]
		}
	}
	return nil
}

// durationMinutes reads a PT#H#M duration. Anything unparseable counts as zero.
func durationMinutes(d string) int {
	m := durationPattern.FindStringSubmatch(d)
	if m == nil {
		return 0
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	return hours*60 + minutes
}

func renderMinutes(total int) string {
	return fmt.Sprintf("%02dh %02dm", total/60, total%60)
}

func formatDuration(d string) *string {
	if d == "" {
		return nil
	}
	m := durationPattern.FindStringSubmatch(d)
	hours, minutes := 0, 0
	if m != nil {
		hours, _ = strconv.Atoi(m[1])
		minutes, _ = strconv.Atoi(m[2])
	}
	s := fmt.Sprintf("%02dh %02dm", hours, minutes)
	return &s
}

func totalDuration(its []rawItinerary) string {
	total := 0
	for _, it := range its {
		total += durationMinutes(it.Duration)
	}
	return renderMinutes(total)
}

func formatTimestamp(at, layout string) *string {
	if at == "" {
		return nil
	}
	for _, l := range timestampLayouts {
		if t, err := time.Parse(l, at); err == nil {
			s := t.Format(layout)
			return &s
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
