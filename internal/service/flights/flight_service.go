package flights

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Domenick1991/skyorder/config"
	"github.com/Domenick1991/skyorder/internal/domain"
	"github.com/Domenick1991/skyorder/internal/gds"
	"github.com/Domenick1991/skyorder/internal/offer"
	"github.com/Domenick1991/skyorder/internal/trip"
	"github.com/sirupsen/logrus"
)

const (
	flightOffersPath = "/v2/shopping/flight-offers"
	locationsPath    = "/v1/reference-data/locations"

	defaultPlacesQuery = "US"
)

var searchSources = []string{"GDS"}

type FlightUseCase interface {
	Search(ctx context.Context, input SearchInput) (*SearchResult, error)
	Places(ctx context.Context, query string) ([]domain.Airport, error)
}

type AirportCache interface {
	GetAirports(ctx context.Context, keyword string) ([]domain.Airport, error)
	SetAirports(ctx context.Context, keyword string, airports []domain.Airport) error
}

type SearchInput struct {
	Trips        trip.Legs `json:"trips"`
	TripType     string    `json:"trip_type"`
	Adults       int       `json:"adult"`
	Children     int       `json:"children"`
	Infants      int       `json:"infants"`
	TravelClass  string    `json:"travelClass"`
	CurrencyCode string    `json:"currencyCode"`
	Max          int       `json:"max"`
	ReturnDate   string    `json:"returnDate"`
	Fields       []string  `json:"-"`
}

type SearchResult struct {
	TripType domain.TripShape
	Offers   []*offer.NormalizedOffer
	Fields   []string
}

// Formatted applies the caller's field allow-list.
func (r *SearchResult) Formatted() []any {
	return offer.Select(r.Offers, r.Fields)
}

type FlightService struct {
	gds             gds.Caller
	cache           AirportCache
	defaultCurrency string
	defaultMax      int
	log             logrus.FieldLogger
}

func NewFlightService(caller gds.Caller, cache AirportCache, cfg config.SearchConfig, log logrus.FieldLogger) *FlightService {
	return &FlightService{
		gds:             caller,
		cache:           cache,
		defaultCurrency: cfg.DefaultCurrency,
		defaultMax:      cfg.DefaultMax,
		log:             log,
	}
}

func (s *FlightService) Search(ctx context.Context, input SearchInput) (*SearchResult, error) {
	legs := []domain.TripLeg(input.Trips)
	if err := trip.Validate(legs, input.Adults); err != nil {
		return nil, err
	}
	if input.Children < 0 || input.Infants < 0 {
		return nil, domain.NewValidationError("children", "traveler counts cannot be negative")
	}

	shape := trip.InferShape(legs, input.TripType)
	cabin := trip.NormalizeCabin(input.TravelClass)
	currency := input.CurrencyCode
	if currency == "" {
		currency = s.defaultCurrency
	}
	max := input.Max
	if max <= 0 {
		max = s.defaultMax
	}

	var (
		raw json.RawMessage
		err error
	)
	if shape == domain.TripShapeMultiDestination {
		manifest := trip.BuildManifest(input.Adults, input.Children, input.Infants, trip.LegIDs(legs), cabin)
		raw, err = s.gds.Call(ctx, http.MethodPost, flightOffersPath, multiDestinationBody(legs, manifest, currency, max), nil)
	} else {
		raw, err = s.gds.Call(ctx, http.MethodGet, flightOffersPath, nil, searchQuery(legs, shape, input, cabin, currency, max))
	}
	if err != nil {
		return nil, err
	}

	data, err := gds.DataList(raw)
	if err != nil {
		return nil, err
	}
	offers, err := offer.NormalizeAll(data)
	if err != nil {
		return nil, fmt.Errorf("normalize offers: %w", err)
	}

	s.log.WithFields(logrus.Fields{"trip_type": shape, "legs": len(legs), "offers": len(offers)}).Info("flight search completed")
	return &SearchResult{TripType: shape, Offers: offers, Fields: input.Fields}, nil
}

// searchQuery flattens a one-way or round-trip search into GET parameters.
// Zero counts and empty values are left out.
func searchQuery(legs []domain.TripLeg, shape domain.TripShape, input SearchInput, cabin, currency string, max int) url.Values {
	q := url.Values{}
	set := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	count := func(key string, n int) {
		if n > 0 {
			q.Set(key, strconv.Itoa(n))
		}
	}

	first := legs[0]
	set("originLocationCode", first.From)
	set("destinationLocationCode", first.To)
	set("departureDate", first.Date)
	count("adults", input.Adults)
	count("children", input.Children)
	count("infants", input.Infants)
	set("travelClass", cabin)
	set("currencyCode", currency)
	count("max", max)

	if shape == domain.TripShapeRoundTrip {
		switch {
		case len(legs) > 1 && legs[1].Date != "":
			set("returnDate", legs[1].Date)
		case input.ReturnDate != "":
			set("returnDate", strings.TrimSpace(input.ReturnDate))
		}
	}
	return q
}

type originDestination struct {
	ID                      string        `json:"id"`
	OriginLocationCode      string        `json:"originLocationCode"`
	DestinationLocationCode string        `json:"destinationLocationCode"`
	DepartureDateTimeRange  dateTimeRange `json:"departureDateTimeRange"`
}

type dateTimeRange struct {
	Date string `json:"date"`
}

type multiDestinationRequest struct {
	CurrencyCode       string                         `json:"currencyCode"`
	OriginDestinations []originDestination            `json:"originDestinations"`
	Travelers          []domain.TravelerManifestEntry `json:"travelers"`
	Sources            []string                       `json:"sources"`
	SearchCriteria     searchCriteria                 `json:"searchCriteria"`
}

type searchCriteria struct {
	MaxFlightOffers int `json:"maxFlightOffers"`
}

func multiDestinationBody(legs []domain.TripLeg, manifest []domain.TravelerManifestEntry, currency string, max int) multiDestinationRequest {
	ids := trip.LegIDs(legs)
	ods := make([]originDestination, 0, len(legs))
	for i, leg := range legs {
		ods = append(ods, originDestination{
			ID:                      ids[i],
			OriginLocationCode:      leg.From,
			DestinationLocationCode: leg.To,
			DepartureDateTimeRange:  dateTimeRange{Date: leg.Date},
		})
	}
	return multiDestinationRequest{
		CurrencyCode:       currency,
		OriginDestinations: ods,
		Travelers:          manifest,
		Sources:            searchSources,
		SearchCriteria:     searchCriteria{MaxFlightOffers: max},
	}
}

type rawLocation struct {
	Type     string `json:"type"`
	SubType  string `json:"subType"`
	Name     string `json:"name"`
	IATACode string `json:"iataCode"`
	Address  struct {
		CityName    string `json:"cityName"`
		CityCode    string `json:"cityCode"`
		CountryName string `json:"countryName"`
		CountryCode string `json:"countryCode"`
		StateCode   string `json:"stateCode"`
		RegionCode  string `json:"regionCode"`
	} `json:"address"`
}

// Places looks airports up by keyword, served from cache when possible.
func (s *FlightService) Places(ctx context.Context, query string) ([]domain.Airport, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		query = defaultPlacesQuery
	}

	if s.cache != nil {
		if cached, err := s.cache.GetAirports(ctx, query); err == nil && cached != nil {
			return cached, nil
		} else if err != nil {
			s.log.WithError(err).Warn("airport cache read failed")
		}
	}

	raw, err := s.gds.Call(ctx, http.MethodGet, locationsPath, nil, url.Values{"subType": {"AIRPORT"}, "keyword": {query}})
	if err != nil {
		return nil, err
	}
	data, err := gds.DataList(raw)
	if err != nil {
		return nil, err
	}

	airports := make([]domain.Airport, 0, len(data))
	for _, item := range data {
		var loc rawLocation
		if err := json.Unmarshal(item, &loc); err != nil {
			continue
		}
		if loc.Type != "location" || loc.IATACode == "" {
			continue
		}
		airports = append(airports, toAirport(loc))
	}

	if s.cache != nil {
		if err := s.cache.SetAirports(ctx, query, airports); err != nil {
			s.log.WithError(err).Warn("airport cache write failed")
		}
	}
	return airports, nil
}

func toAirport(loc rawLocation) domain.Airport {
	name := loc.Name
	if !strings.EqualFold(loc.SubType, "AIRPORT") && name != "" {
		name += " AIRPORT"
	}
	return domain.Airport{
		City:        loc.Name,
		CityName:    loc.Address.CityName,
		CityCode:    loc.Address.CityCode,
		CountryCode: loc.Address.CountryCode,
		StateCode:   loc.Address.StateCode,
		RegionCode:  loc.Address.RegionCode,
		Country:     loc.Address.CountryName,
		Airport:     name,
		Code:        loc.IATACode,
	}
}

var _ FlightUseCase = (*FlightService)(nil)
