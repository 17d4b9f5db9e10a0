package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"foodrescue/internal/domain"
	"foodrescue/internal/ports"
)

const donationColumns = `id, provider_id, food_name, description, initial_quantity, current_quantity,
	weight_gram, packaging, delivery_methods, distribution_start, distribution_end, status,
	audit, impact, created_at, updated_at`

const claimColumns = `id, donation_id, provider_id, food_name, requester_id, claimed_quantity,
	proportional_impact, unique_code, status, delivery_method, courier_id, courier_status,
	created_at, completed_at, cancelled_at`

func scanDonation(row pgx.Row) (domain.Donation, error) {
	var (
		d                 domain.Donation
		packaging, status string
		methods           []string
	)
	err := row.Scan(&d.ID, &d.ProviderID, &d.FoodName, &d.Description, &d.InitialQuantity, &d.CurrentQuantity,
		&d.WeightGram, &packaging, &methods, &d.DistributionStart, &d.DistributionEnd, &status,
		&d.Audit, &d.Impact, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return d, err
	}
	d.Packaging = domain.Packaging(packaging)
	d.Status = domain.DonationStatus(status)
	d.DeliveryMethods = make([]domain.DeliveryMethod, 0, len(methods))
	for _, m := range methods {
		d.DeliveryMethods = append(d.DeliveryMethods, domain.DeliveryMethod(m))
	}
	d.DistributionStart = d.DistributionStart.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	if d.DistributionEnd != nil {
		end := d.DistributionEnd.UTC()
		d.DistributionEnd = &end
	}
	return d, nil
}

func scanClaim(row pgx.Row) (domain.ClaimRecord, error) {
	var (
		c                       domain.ClaimRecord
		status, method, courier string
	)
	err := row.Scan(&c.ID, &c.DonationID, &c.ProviderID, &c.FoodName, &c.RequesterID, &c.ClaimedQuantity,
		&c.ProportionalImpact, &c.UniqueCode, &status, &method, &c.CourierID, &courier,
		&c.CreatedAt, &c.CompletedAt, &c.CancelledAt)
	if err != nil {
		return c, err
	}
	c.Status = domain.ClaimStatus(status)
	c.DeliveryMethod = domain.DeliveryMethod(method)
	c.CourierStatus = domain.CourierStatus(courier)
	c.CreatedAt = c.CreatedAt.UTC()
	for _, ts := range []**time.Time{&c.CompletedAt, &c.CancelledAt} {
		if *ts != nil {
			t := (*ts).UTC()
			*ts = &t
		}
	}
	return c, nil
}

// where joins non-empty conditions; args are numbered in append order.
type where struct {
	conds []string
	args  []any
}

func (w *where) eq(column string, v string) {
	if v == "" {
		return
	}
	w.args = append(w.args, v)
	w.conds = append(w.conds, fmt.Sprintf("%s = $%d", column, len(w.args)))
}

func (w *where) raw(cond string) { w.conds = append(w.conds, cond) }

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (db *DB) GetInventory(ctx context.Context, filter ports.InventoryFilter) ([]domain.Donation, error) {
	var w where
	w.eq("provider_id", filter.ProviderID)
	if filter.OnlyClaimable {
		w.raw("status = 'available' AND current_quantity > 0")
	}
	rows, err := db.Pool.Query(ctx, `SELECT `+donationColumns+` FROM food_items`+w.String()+` ORDER BY created_at DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Donation, 0)
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (db *DB) GetDonation(ctx context.Context, id string) (domain.Donation, error) {
	d, err := scanDonation(db.Pool.QueryRow(ctx, `SELECT `+donationColumns+` FROM food_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return d, ports.ErrNotFound
	}
	return d, err
}

// PublishDonation inserts d, or replaces the listing when the id exists.
func (db *DB) PublishDonation(ctx context.Context, d domain.Donation) error {
	methods := make([]string, 0, len(d.DeliveryMethods))
	for _, m := range d.DeliveryMethods {
		methods = append(methods, string(m))
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO food_items (`+donationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			provider_id = EXCLUDED.provider_id, food_name = EXCLUDED.food_name,
			description = EXCLUDED.description, initial_quantity = EXCLUDED.initial_quantity,
			current_quantity = EXCLUDED.current_quantity, weight_gram = EXCLUDED.weight_gram,
			packaging = EXCLUDED.packaging, delivery_methods = EXCLUDED.delivery_methods,
			distribution_start = EXCLUDED.distribution_start, distribution_end = EXCLUDED.distribution_end,
			status = EXCLUDED.status, audit = EXCLUDED.audit, impact = EXCLUDED.impact,
			updated_at = EXCLUDED.updated_at
	`, d.ID, d.ProviderID, d.FoodName, d.Description, d.InitialQuantity, d.CurrentQuantity,
		d.WeightGram, string(d.Packaging), methods, d.DistributionStart, d.DistributionEnd, string(d.Status),
		d.Audit, d.Impact, d.CreatedAt, d.UpdatedAt)
	return err
}

func (db *DB) GetClaims(ctx context.Context, filter ports.ClaimFilter) ([]domain.ClaimRecord, error) {
	var w where
	w.eq("donation_id", filter.DonationID)
	w.eq("requester_id", filter.RequesterID)
	w.eq("provider_id", filter.ProviderID)
	w.eq("unique_code", filter.Code)
	w.eq("status", string(filter.Status))
	rows, err := db.Pool.Query(ctx, `SELECT `+claimColumns+` FROM claims`+w.String()+` ORDER BY created_at DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.ClaimRecord, 0)
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (db *DB) GetClaim(ctx context.Context, id string) (domain.ClaimRecord, error) {
	c, err := scanClaim(db.Pool.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return c, ports.ErrNotFound
	}
	return c, err
}

// ProcessClaimTransaction relies on the conditional UPDATE: concurrent
// claimers serialize on the row lock and re-check the stock predicate.
func (db *DB) ProcessClaimTransaction(ctx context.Context, donationID string, quantity int, claim domain.ClaimRecord) error {
	if quantity < 1 {
		return ports.ErrInsufficientStock
	}
	return db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE food_items
			SET current_quantity = current_quantity - $2,
			    status = CASE WHEN current_quantity - $2 = 0 THEN 'out_of_stock' ELSE status END,
			    updated_at = now()
			WHERE id = $1 AND status = 'available' AND current_quantity >= $2
		`, donationID, quantity)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM food_items WHERE id = $1)`, donationID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ports.ErrNotFound
			}
			return ports.ErrInsufficientStock
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO claims (`+claimColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, claim.ID, donationID, claim.ProviderID, claim.FoodName, claim.RequesterID, quantity,
			claim.ProportionalImpact, claim.UniqueCode, string(claim.Status), string(claim.DeliveryMethod),
			claim.CourierID, string(claim.CourierStatus), claim.CreatedAt, claim.CompletedAt, claim.CancelledAt)
		return claimConflict(err)
	})
}

// SQLSTATE unique_violation
const uniqueViolation = "23505"

// claimConflict maps the active-claim unique indexes to port errors.
func claimConflict(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "claims_active_requester_key":
		return ports.ErrDuplicateClaim
	case "claims_active_code_key":
		return ports.ErrCodeTaken
	}
	return err
}

func (db *DB) UpdateClaimStatus(ctx context.Context, claimID string, status domain.ClaimStatus, extra ports.ClaimUpdate) error {
	at := extra.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	tag, err := db.Pool.Exec(ctx, `
		UPDATE claims SET
			status = $2::text,
			courier_id = COALESCE(NULLIF($3::text, ''), courier_id),
			courier_status = COALESCE($4::text, courier_status),
			completed_at = CASE WHEN $2::text = 'completed' THEN $5 ELSE completed_at END,
			cancelled_at = CASE WHEN $2::text = 'cancelled' THEN $5 ELSE cancelled_at END
		WHERE id = $1
		  AND ($6::text = '' OR status = $6::text)
		  AND ($7::text IS NULL OR courier_status = $7::text)
	`, claimID, string(status), extra.CourierID, courierArg(extra.CourierStatus), at,
		string(extra.From), courierArg(extra.FromCourier))
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := db.GetClaim(ctx, claimID); err != nil {
		return err
	}
	return ports.ErrStaleStatus
}

func courierArg(s *domain.CourierStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
