package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tamv/mdx/internal/mdx/domain"
)

type drawsRepo struct {
	db dbtx
}

func (r *drawsRepo) CreateDraw(ctx context.Context, d domain.Draw) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lottery_draws (id, name, prize_pool, ticket_price, max_tickets, tickets_sold, status, draw_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.PrizePool.String(), d.TicketPrice.String(),
		d.MaxTickets, d.TicketsSold, string(d.Status), d.DrawDate.UTC(),
	)
	return err
}

func (r *drawsRepo) GetDrawByID(ctx context.Context, id string) (domain.Draw, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, prize_pool, ticket_price, max_tickets, tickets_sold, status, draw_date,
		       winner_user_id, vrf_random_number, vrf_proof, vrf_request_id, completed_at, created_at
		FROM lottery_draws
		WHERE id = ?`, id,
	)

	var (
		d                      domain.Draw
		prizePool, ticketPrice string
		status                 string
		winner                 sql.NullString
		randomValue            sql.NullString
		proof                  sql.NullString
		requestID              sql.NullString
		completedAt            sql.NullTime
	)
	err := row.Scan(&d.ID, &d.Name, &prizePool, &ticketPrice, &d.MaxTickets, &d.TicketsSold,
		&status, &d.DrawDate, &winner, &randomValue, &proof, &requestID, &completedAt, &d.CreatedAt)
	if err != nil {
		return domain.Draw{}, mapNotFound(err)
	}

	if d.PrizePool, err = decimal.NewFromString(prizePool); err != nil {
		return domain.Draw{}, fmt.Errorf("bad prize_pool for draw %s: %w", d.ID, err)
	}
	if d.TicketPrice, err = decimal.NewFromString(ticketPrice); err != nil {
		return domain.Draw{}, fmt.Errorf("bad ticket_price for draw %s: %w", d.ID, err)
	}
	d.Status = domain.DrawStatus(status)
	d.WinnerUserID = mapNullStringPtr(winner)
	d.RandomValue = mapNullStringPtr(randomValue)
	d.Proof = mapNullStringPtr(proof)
	d.RequestID = mapNullStringPtr(requestID)
	d.CompletedAt = mapNullTimePtr(completedAt)
	return d, nil
}

// RequestDrawRandomness records only the request id: the random value and
// proof are written once, by CompleteDraw.
func (r *drawsRepo) RequestDrawRandomness(ctx context.Context, id, requestID string) error {
	return affectedOrConflict(r.db.ExecContext(ctx, `
		UPDATE lottery_draws
		SET status = 'drawing', vrf_request_id = ?
		WHERE id = ? AND status = 'active'`,
		requestID, id,
	))
}

// CompleteDraw is the compare-and-set that makes concurrent executions
// mutually exclusive: only one caller observes an open draw.
func (r *drawsRepo) CompleteDraw(ctx context.Context, id, winnerUserID string, artifact domain.RandomnessArtifact, at time.Time) error {
	return affectedOrConflict(r.db.ExecContext(ctx, `
		UPDATE lottery_draws
		SET status = 'completed',
		    winner_user_id = ?,
		    vrf_random_number = ?,
		    vrf_proof = ?,
		    vrf_request_id = ?,
		    completed_at = ?
		WHERE id = ? AND status IN ('active', 'drawing')`,
		winnerUserID, artifact.RandomValue, artifact.Proof, artifact.RequestID, at.UTC(), id,
	))
}

func (r *drawsRepo) IncrementTicketsSold(ctx context.Context, id string) (int64, error) {
	if err := affectedOrConflict(r.db.ExecContext(ctx, `
		UPDATE lottery_draws
		SET tickets_sold = tickets_sold + 1
		WHERE id = ? AND status = 'active' AND tickets_sold < max_tickets`,
		id,
	)); err != nil {
		return 0, err
	}

	var sold int64
	err := r.db.QueryRowContext(ctx, `
		SELECT tickets_sold FROM lottery_draws WHERE id = ?`, id,
	).Scan(&sold)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return sold, nil
}

func (r *drawsRepo) CancelDraw(ctx context.Context, id string) error {
	return affectedOrConflict(r.db.ExecContext(ctx, `
		UPDATE lottery_draws
		SET status = 'cancelled'
		WHERE id = ? AND status = 'active'`,
		id,
	))
}
