package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Domenick1991/skyorder/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BookingRepository interface {
	CreatePending(ctx context.Context, booking *domain.Booking) error
	AttachSession(ctx context.Context, id int64, sessionID string) error
	GetBySession(ctx context.Context, sessionID string) (*domain.Booking, error)
	MarkSucceeded(ctx context.Context, id int64, upstreamID string, response json.RawMessage, transactionID string) (*domain.Booking, error)
	MarkFailed(ctx context.Context, id int64) (*domain.Booking, error)
	FailPendingBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error)
}

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

const bookingColumns = `id, reference, COALESCE(unique_key, ''), COALESCE(upstream_booking_id, ''), flight_offer, travelers,
	contacts, order_response, payment_gateway, payment_status, COALESCE(session_id, ''), COALESCE(transaction_id, ''),
	amount::float8, currency, created_at, updated_at`

func (r *PGBookingRepository) CreatePending(ctx context.Context, booking *domain.Booking) error {
	booking.PaymentStatus = domain.PaymentStatusPending
	var uniqueKey any
	if booking.UniqueKey != "" {
		uniqueKey = booking.UniqueKey
	}
	return r.db.QueryRow(ctx, `INSERT INTO flight_bookings
		(reference, unique_key, flight_offer, travelers, contacts, payment_gateway, payment_status, amount, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		booking.Reference, uniqueKey, []byte(booking.FlightOffer), []byte(booking.Travelers), []byte(booking.Contacts),
		booking.PaymentGateway, booking.PaymentStatus, booking.Amount, booking.Currency).
		Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)
}

// AttachSession records the checkout session. The session id doubles as the
// transaction id until the payment settles.
func (r *PGBookingRepository) AttachSession(ctx context.Context, id int64, sessionID string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE flight_bookings SET session_id = $1, transaction_id = $1, updated_at = now()
		WHERE id = $2 AND payment_status = 'pending'`, sessionID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

func (r *PGBookingRepository) GetBySession(ctx context.Context, sessionID string) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM flight_bookings WHERE session_id = $1`, sessionID)
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	return b, err
}

// MarkSucceeded applies pending -> success together with the upstream order
// data in one statement. A booking that already left pending is reported as
// domain.ErrAlreadyProcessed.
func (r *PGBookingRepository) MarkSucceeded(ctx context.Context, id int64, upstreamID string, response json.RawMessage, transactionID string) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `UPDATE flight_bookings
		SET payment_status = 'success', upstream_booking_id = $1, order_response = $2,
			transaction_id = COALESCE(NULLIF($3, ''), transaction_id), updated_at = now()
		WHERE id = $4 AND payment_status = 'pending'
		RETURNING `+bookingColumns, upstreamID, nullJSON(response), transactionID, id)
	return r.transition(row)
}

func (r *PGBookingRepository) MarkFailed(ctx context.Context, id int64) (*domain.Booking, error) {
	row := r.db.QueryRow(ctx, `UPDATE flight_bookings SET payment_status = 'failed', updated_at = now()
		WHERE id = $1 AND payment_status = 'pending'
		RETURNING `+bookingColumns, id)
	return r.transition(row)
}

// FailPendingBefore fails every booking still pending that was created
// before deadline and returns them.
func (r *PGBookingRepository) FailPendingBefore(ctx context.Context, deadline time.Time) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `UPDATE flight_bookings SET payment_status = 'failed', updated_at = now()
		WHERE payment_status = 'pending' AND created_at <= $1
		RETURNING `+bookingColumns, deadline)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failed []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		failed = append(failed, *b)
	}
	return failed, rows.Err()
}

func (r *PGBookingRepository) transition(row pgx.Row) (*domain.Booking, error) {
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAlreadyProcessed
	}
	return b, err
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b                                    domain.Booking
		offer, travelers, contacts, response []byte
	)
	if err := row.Scan(&b.ID, &b.Reference, &b.UniqueKey, &b.UpstreamBookingID, &offer, &travelers, &contacts, &response,
		&b.PaymentGateway, &b.PaymentStatus, &b.SessionID, &b.TransactionID, &b.Amount, &b.Currency,
		&b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.FlightOffer, b.Travelers, b.Contacts, b.OrderResponse = offer, travelers, contacts, response
	return &b, nil
}

var _ BookingRepository = (*PGBookingRepository)(nil)
