package sqlite

import (
	"context"

	"github.com/tamv/mdx/internal/mdx/domain"
)

type ticketsRepo struct {
	db dbtx
}

func (r *ticketsRepo) CreateTicket(ctx context.Context, t domain.Ticket) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lottery_tickets (id, draw_id, ticket_number, user_id, is_winner)
		VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.DrawID, t.TicketNumber, t.UserID, t.IsWinner,
	)
	return err
}

func (r *ticketsRepo) GetTicketByNumber(ctx context.Context, drawID string, number int64) (domain.Ticket, error) {
	var t domain.Ticket
	err := r.db.QueryRowContext(ctx, `
		SELECT id, draw_id, ticket_number, user_id, is_winner, created_at
		FROM lottery_tickets
		WHERE draw_id = ? AND ticket_number = ?`,
		drawID, number,
	).Scan(&t.ID, &t.DrawID, &t.TicketNumber, &t.UserID, &t.IsWinner, &t.CreatedAt)
	if err != nil {
		return domain.Ticket{}, mapNotFound(err)
	}
	return t, nil
}

func (r *ticketsRepo) MarkTicketWinner(ctx context.Context, id string) error {
	return affectedOrConflict(r.db.ExecContext(ctx, `
		UPDATE lottery_tickets SET is_winner = 1 WHERE id = ?`, id,
	))
}

func (r *ticketsRepo) CountTickets(ctx context.Context, drawID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM lottery_tickets WHERE draw_id = ?`, drawID,
	).Scan(&n)
	return n, err
}
