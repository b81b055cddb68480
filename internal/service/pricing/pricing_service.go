package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/Domenick1991/skyorder/internal/domain"
	"github.com/Domenick1991/skyorder/internal/gds"
	"github.com/Domenick1991/skyorder/internal/offer"
	"github.com/Domenick1991/skyorder/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	pricingPath   = "/v1/shopping/flight-offers/pricing"
	seatmapPath   = "/v1/shopping/seatmaps"
	ancillaryPath = "/v1/booking/ancillary-services"
)

type PricingUseCase interface {
	Price(ctx context.Context, input offer.Input) (*Result, error)
}

type Result struct {
	UniqueKey string
	Pricing   json.RawMessage
	Seatmap   offer.SideResult
	Ancillary offer.SideResult
	Details   *offer.NormalizedOffer
}

type PricingService struct {
	gds  gds.Caller
	repo repository.PricingRepository
	log  logrus.FieldLogger
	// newKey generates snapshot keys; replaced in tests.
	newKey func() string
}

func NewPricingService(caller gds.Caller, repo repository.PricingRepository, log logrus.FieldLogger) *PricingService {
	return &PricingService{
		gds:    caller,
		repo:   repo,
		log:    log,
		newKey: uuid.NewString,
	}
}

type pricingRequest struct {
	Data pricingData `json:"data"`
}

type pricingData struct {
	Type         string            `json:"type"`
	FlightOffers []json.RawMessage `json:"flightOffers"`
}

func wrap(kind string, raw json.RawMessage) pricingRequest {
	return pricingRequest{Data: pricingData{Type: kind, FlightOffers: []json.RawMessage{raw}}}
}

// Price re-prices one offer upstream and stores the result under a fresh key.
// Seatmap and ancillary lookups are best-effort and never fail the call.
func (s *PricingService) Price(ctx context.Context, input offer.Input) (*Result, error) {
	if input.Empty() {
		return nil, domain.NewValidationError("full_offer_encoded", "Missing encoded flight offer data.")
	}
	raw, err := input.Resolve()
	if err != nil {
		return nil, err
	}
	details, err := offer.Normalize(raw)
	if err != nil {
		return nil, err
	}

	pricing, err := s.gds.Call(ctx, http.MethodPost, pricingPath, wrap("flight-offers-pricing", raw), nil)
	if err != nil {
		return nil, err
	}

	var (
		wg                 sync.WaitGroup
		seatmap, ancillary offer.SideResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		seatmap = s.side(ctx, seatmapPath, raw)
	}()
	go func() {
		defer wg.Done()
		ancillary = s.side(ctx, ancillaryPath, raw)
	}()
	wg.Wait()

	token := input.Token
	if token == "" {
		token = details.FullOfferEncoded
	}

	snapshot := &domain.PricingSnapshot{
		UniqueKey:         s.newKey(),
		FullOfferEncoded:  token,
		FlightOffer:       raw,
		PricingResponse:   pricing,
		SeatmapResponse:   seatmap.Payload,
		AncillaryResponse: ancillary.Payload,
	}
	if err := s.repo.Create(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("save pricing snapshot: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"unique_key":         snapshot.UniqueKey,
		"seatmap_degraded":   seatmap.Degraded,
		"ancillary_degraded": ancillary.Degraded,
	}).Info("flight offer priced")

	return &Result{
		UniqueKey: snapshot.UniqueKey,
		Pricing:   pricing,
		Seatmap:   seatmap,
		Ancillary: ancillary,
		Details:   details,
	}, nil
}

func (s *PricingService) side(ctx context.Context, path string, raw json.RawMessage) offer.SideResult {
	resp, err := s.gds.Call(ctx, http.MethodPost, path, wrap("flight-offers", raw), nil)
	if err != nil {
		s.log.WithError(err).WithField("endpoint", path).Warn("best-effort gds call failed")
		return offer.SideResult{Degraded: true}
	}
	return offer.SideResult{Payload: resp}
}

var _ PricingUseCase = (*PricingService)(nil)
