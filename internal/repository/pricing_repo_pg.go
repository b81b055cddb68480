package repository

import (
	"context"
	"errors"

	"github.com/Domenick1991/skyorder/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PricingRepository interface {
	Create(ctx context.Context, snapshot *domain.PricingSnapshot) error
	GetByKey(ctx context.Context, uniqueKey string) (*domain.PricingSnapshot, error)
}

type PGPricingRepository struct {
	db *pgxpool.Pool
}

func NewPricingRepository(db *pgxpool.Pool) PricingRepository {
	return &PGPricingRepository{db: db}
}

func (r *PGPricingRepository) Create(ctx context.Context, s *domain.PricingSnapshot) error {
	return r.db.QueryRow(ctx, `INSERT INTO flight_pricings
		(unique_key, full_offer_encoded, flight_offer, pricing_response, seatmap_response, ancillary_response)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		s.UniqueKey, s.FullOfferEncoded, []byte(s.FlightOffer), []byte(s.PricingResponse),
		nullJSON(s.SeatmapResponse), nullJSON(s.AncillaryResponse)).
		Scan(&s.ID, &s.CreatedAt)
}

func (r *PGPricingRepository) GetByKey(ctx context.Context, uniqueKey string) (*domain.PricingSnapshot, error) {
	var (
		s                                  domain.PricingSnapshot
		offer, pricing, seatmap, ancillary []byte
	)
	err := r.db.QueryRow(ctx, `SELECT id, unique_key, full_offer_encoded, flight_offer, pricing_response,
		seatmap_response, ancillary_response, created_at
		FROM flight_pricings WHERE unique_key = $1`, uniqueKey).
		Scan(&s.ID, &s.UniqueKey, &s.FullOfferEncoded, &offer, &pricing, &seatmap, &ancillary, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPricingNotFound
	}
	if err != nil {
		return nil, err
	}
	s.FlightOffer, s.PricingResponse, s.SeatmapResponse, s.AncillaryResponse = offer, pricing, seatmap, ancillary
	return &s, nil
}

var _ PricingRepository = (*PGPricingRepository)(nil)
