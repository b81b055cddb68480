// Package trip turns caller search input into canonical legs and traveler
// manifests for the GDS.
package trip

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Domenick1991/skyorder/internal/domain"
)

// Legs accepts trips either as a "from,to,date;from,to,date" string or as a
// JSON list of {from,to,date} objects. Invalid legs are dropped.
type Legs []domain.TripLeg

func (l *Legs) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = ParseString(s)
		return nil
	}
	var list []domain.TripLeg
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*l = ParseList(list)
	return nil
}

// ParseString parses "from,to,date" triples separated by ';'.
func ParseString(raw string) []domain.TripLeg {
	var legs []domain.TripLeg
	for _, part := range strings.Split(raw, ";") {
		fields := strings.Split(part, ",")
		if len(fields) != 3 {
			continue
		}
		leg := domain.TripLeg{
			From: strings.TrimSpace(fields[0]),
			To:   strings.TrimSpace(fields[1]),
			Date: strings.TrimSpace(fields[2]),
		}
		if leg.Valid() {
			legs = append(legs, leg)
		}
	}
	return legs
}

func ParseList(list []domain.TripLeg) []domain.TripLeg {
	var legs []domain.TripLeg
	for _, leg := range list {
		leg.From = strings.TrimSpace(leg.From)
		leg.To = strings.TrimSpace(leg.To)
		leg.Date = strings.TrimSpace(leg.Date)
		if leg.Valid() {
			legs = append(legs, leg)
		}
	}
	return legs
}

// InferShape trusts an explicit recognized shape, otherwise derives it from
// the number of legs.
func InferShape(legs []domain.TripLeg, explicit string) domain.TripShape {
	if shape := domain.TripShape(strings.TrimSpace(explicit)); shape.Recognized() {
		return shape
	}
	switch n := len(legs); {
	case n == 1:
		return domain.TripShapeOneWay
	case n == 2:
		return domain.TripShapeRoundTrip
	case n > 2:
		return domain.TripShapeMultiDestination
	default:
		return domain.TripShapeUnknown
	}
}

// NormalizeCabin maps cabin synonyms to GDS travel classes. Unknown input
// yields "" meaning no preference.
func NormalizeCabin(class string) string {
	switch strings.ToLower(strings.TrimSpace(class)) {
	case "economy", "eco":
		return "ECONOMY"
	case "business", "biz":
		return "BUSINESS"
	case "first":
		return "FIRST"
	case "premium":
		return "PREMIUM_ECONOMY"
	default:
		return ""
	}
}

// LegIDs numbers legs "1".."n" in request order.
func LegIDs(legs []domain.TripLeg) []string {
	ids := make([]string, len(legs))
	for i := range legs {
		ids[i] = strconv.Itoa(i + 1)
	}
	return ids
}

// BuildManifest emits one entry per traveler in ADULT, CHILD, HELD_INFANT
// order with sequential ids. Only the first adult carries the cabin
// restriction, and only when a cabin was requested.
func BuildManifest(adults, children, infants int, legIDs []string, cabin string) []domain.TravelerManifestEntry {
	manifest := make([]domain.TravelerManifestEntry, 0, adults+children+infants)
	next := 1
	add := func(t domain.TravelerType) *domain.TravelerManifestEntry {
		manifest = append(manifest, domain.TravelerManifestEntry{ID: strconv.Itoa(next), TravelerType: t})
		next++
		return &manifest[len(manifest)-1]
	}

	for i := 0; i < adults; i++ {
		entry := add(domain.TravelerAdult)
		if i == 0 && cabin != "" {
			entry.CabinRestrictions = []domain.CabinRestriction{{
				Cabin:                cabin,
				Coverage:             domain.CabinCoverageMostSegments,
				OriginDestinationIDs: legIDs,
			}}
		}
	}
	for i := 0; i < children; i++ {
		add(domain.TravelerChild)
	}
	for i := 0; i < infants; i++ {
		add(domain.TravelerHeldInfant)
	}
	return manifest
}

// Validate rejects a search with no usable legs or no adult count.
func Validate(legs []domain.TripLeg, adults int) error {
	if adults <= 0 {
		return domain.NewValidationError("adult", "at least one adult is required")
	}
	if len(legs) == 0 {
		return domain.NewValidationError("trips", "no valid trips provided")
	}
	return nil
}
