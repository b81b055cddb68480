package domain

import "strings"

type TripShape string

const (
	TripShapeOneWay           TripShape = "one-way"
	TripShapeRoundTrip        TripShape = "round-trip"
	TripShapeMultiDestination TripShape = "multi-destination"
	TripShapeUnknown          TripShape = "unknown"
)

// Recognized reports whether s is one of the three shapes a caller may request.
func (s TripShape) Recognized() bool {
	switch s {
	case TripShapeOneWay, TripShapeRoundTrip, TripShapeMultiDestination:
		return true
	}
	return false
}

type TripLeg struct {
	From string `json:"from"`
	To   string `json:"to"`
	Date string `json:"date"`
}

func (l TripLeg) Valid() bool {
	return strings.TrimSpace(l.From) != "" && strings.TrimSpace(l.To) != "" && strings.TrimSpace(l.Date) != ""
}

type TravelerType string

const (
	TravelerAdult      TravelerType = "ADULT"
	TravelerChild      TravelerType = "CHILD"
	TravelerHeldInfant TravelerType = "HELD_INFANT"
)

const CabinCoverageMostSegments = "MOST_SEGMENTS"

type CabinRestriction struct {
	Cabin                string   `json:"cabin"`
	Coverage             string   `json:"coverage"`
	OriginDestinationIDs []string `json:"originDestinationIds"`
}

type TravelerManifestEntry struct {
	ID                string             `json:"id"`
	TravelerType      TravelerType       `json:"travelerType"`
	CabinRestrictions []CabinRestriction `json:"cabinRestrictions,omitempty"`
}
