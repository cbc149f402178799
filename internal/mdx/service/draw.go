package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tamv/mdx/internal/mdx/domain"
	"github.com/tamv/mdx/internal/mdx/store"
	"github.com/tamv/mdx/pkg/cryptox"
	"github.com/tamv/mdx/pkg/idx"
)

var (
	ErrDrawNotFound      = errors.New("draw not found")
	ErrInvalidState      = errors.New("operation not valid for current draw status")
	ErrNoTickets         = errors.New("draw has no tickets sold")
	ErrWinnerResolution  = errors.New("winning ticket could not be resolved")
	ErrSoldOut           = errors.New("draw is sold out")
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
)

// DrawService deterministically selects a winning ticket from a draw's
// sold tickets and settles the prize.
type DrawService struct {
	Store store.Store
	Audit *AuditService
}

// DrawResult is returned by ExecuteDraw.
type DrawResult struct {
	TicketNumber int64
	WinnerUserID string
	PrizeAmount  decimal.Decimal
	Artifact     domain.RandomnessArtifact
}

// VerificationResult is returned by VerifyRandomness.
type VerificationResult struct {
	Verified bool
	Status   domain.DrawStatus
	Artifact *domain.RandomnessArtifact
}

// DrawStatusView is the read-only projection returned by GetDrawStatus.
type DrawStatusView struct {
	Draw        domain.Draw
	TicketCount int64
}

// CreateDraw opens a new draw for ticket sales.
func (s *DrawService) CreateDraw(ctx context.Context, name string, prizePool, ticketPrice decimal.Decimal, maxTickets int64, drawDate time.Time) (domain.Draw, error) {
	if maxTickets <= 0 {
		return domain.Draw{}, fmt.Errorf("max tickets must be positive, got %d", maxTickets)
	}

	draw := domain.Draw{
		ID:          idx.New().String(),
		Name:        name,
		PrizePool:   prizePool,
		TicketPrice: ticketPrice,
		MaxTickets:  maxTickets,
		Status:      domain.DrawStatusActive,
		DrawDate:    drawDate,
	}
	if err := s.Store.Draws().CreateDraw(ctx, draw); err != nil {
		return domain.Draw{}, fmt.Errorf("failed to persist draw: %w", err)
	}

	s.Audit.Record(ctx, "draw_created", "lottery_draw", draw.ID, "",
		domain.AuditSeverityInfo, map[string]any{"name": name, "max_tickets": maxTickets})

	return draw, nil
}

// RequestRandomness models requesting external verifiable randomness: it
// generates a random value with a hash commitment over the current draw
// state and transitions active -> drawing, which freezes ticket sales.
// Only the request id is persisted; the draw's random value and proof are
// written exactly once, on completion. The request-time commitment lives
// in the audit trail.
func (s *DrawService) RequestRandomness(ctx context.Context, drawID string) (string, error) {
	draw, err := s.getDraw(ctx, drawID)
	if err != nil {
		return "", err
	}
	if draw.Status != domain.DrawStatusActive {
		return "", ErrInvalidState
	}

	random, err := cryptox.GenerateRandomValue()
	if err != nil {
		return "", err
	}
	proof := cryptox.Commit(drawSeed(drawID, draw.TicketsSold), random)
	requestID := uuid.NewString()

	if err := s.Store.Draws().RequestDrawRandomness(ctx, drawID, requestID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return "", ErrInvalidState
		}
		return "", fmt.Errorf("failed to transition draw: %w", err)
	}

	s.Audit.Record(ctx, "randomness_requested", "lottery_draw", drawID, "",
		domain.AuditSeverityInfo, map[string]any{
			"request_id":   requestID,
			"proof":        proof,
			"tickets_sold": draw.TicketsSold,
		})

	return requestID, nil
}

// ExecuteDraw selects the winning ticket uniformly from [1, tickets_sold]
// and settles the prize in a single transaction. The draw row is read
// inside that transaction, so the ticket count the commitment and modulo
// use cannot be outrun by a concurrent purchase. The status compare-and-set
// guarantees at most one execution succeeds per draw.
func (s *DrawService) ExecuteDraw(ctx context.Context, drawID string) (DrawResult, error) {
	random, err := cryptox.GenerateRandomValue()
	if err != nil {
		return DrawResult{}, err
	}
	now := time.Now().UTC()

	var (
		winner        domain.Ticket
		artifact      domain.RandomnessArtifact
		winningNumber int64
		prize         decimal.Decimal
	)
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		draw, err := tx.Draws().GetDrawByID(ctx, drawID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrDrawNotFound
			}
			return fmt.Errorf("failed to load draw: %w", err)
		}
		if draw.Status != domain.DrawStatusActive && draw.Status != domain.DrawStatusDrawing {
			return ErrInvalidState
		}
		// Reject before the modulo: tickets_sold == 0 would divide by zero.
		if draw.TicketsSold == 0 {
			return ErrNoTickets
		}
		prize = draw.PrizePool

		requestID := uuid.NewString()
		if draw.RequestID != nil && *draw.RequestID != "" {
			requestID = *draw.RequestID
		}
		artifact = domain.RandomnessArtifact{
			RandomValue: random,
			Proof:       cryptox.Commit(drawSeed(drawID, draw.TicketsSold), random),
			RequestID:   requestID,
		}

		winningNumber, err = winningTicketNumber(random, draw.TicketsSold)
		if err != nil {
			return err
		}

		winner, err = tx.Tickets().GetTicketByNumber(ctx, drawID, winningNumber)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrWinnerResolution
			}
			return fmt.Errorf("failed to resolve winning ticket: %w", err)
		}

		if err := tx.Draws().CompleteDraw(ctx, drawID, winner.UserID, artifact, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrInvalidState
			}
			return fmt.Errorf("failed to complete draw: %w", err)
		}
		if err := tx.Tickets().MarkTicketWinner(ctx, winner.ID); err != nil {
			return fmt.Errorf("failed to flag winning ticket: %w", err)
		}

		if err := tx.Wallets().CreditAccount(ctx, winner.UserID, prize); err != nil {
			return fmt.Errorf("failed to credit winner: %w", err)
		}
		ledger := domain.WalletTransaction{
			ID:        idx.New().String(),
			UserID:    winner.UserID,
			Kind:      domain.TransactionKindPrizePayout,
			Amount:    prize,
			Reference: artifact.Proof,
			Detail:    fmt.Sprintf(`{"draw_id":%q,"ticket_number":%d}`, drawID, winningNumber),
		}
		if err := tx.Wallets().CreateTransaction(ctx, ledger); err != nil {
			return fmt.Errorf("failed to append ledger row: %w", err)
		}
		return nil
	})
	if err != nil {
		return DrawResult{}, err
	}

	s.Audit.Record(ctx, "draw_completed", "lottery_draw", drawID, winner.UserID,
		domain.AuditSeverityCritical, map[string]any{
			"ticket_number": winningNumber,
			"prize_amount":  prize.String(),
			"proof":         artifact.Proof,
		})

	return DrawResult{
		TicketNumber: winningNumber,
		WinnerUserID: winner.UserID,
		PrizeAmount:  prize,
		Artifact:     artifact,
	}, nil
}

// VerifyRandomness checks the stored randomness artifact: structural
// well-formedness plus recomputation of the hash commitment from the
// draw's stored fields. Not a cryptographic VRF verification.
func (s *DrawService) VerifyRandomness(ctx context.Context, drawID string) (VerificationResult, error) {
	draw, err := s.getDraw(ctx, drawID)
	if err != nil {
		return VerificationResult{}, err
	}

	result := VerificationResult{Status: draw.Status}
	if draw.RandomValue == nil || draw.Proof == nil {
		return result, nil
	}

	random, proof := *draw.RandomValue, *draw.Proof
	result.Artifact = &domain.RandomnessArtifact{
		RandomValue: random,
		Proof:       proof,
	}
	if draw.RequestID != nil {
		result.Artifact.RequestID = *draw.RequestID
	}

	result.Verified = cryptox.WellFormedRandomValue(random) &&
		cryptox.WellFormedProof(proof) &&
		proof == cryptox.Commit(drawSeed(drawID, draw.TicketsSold), random)

	return result, nil
}

// GetDrawStatus returns the draw plus a live count of participating
// tickets.
func (s *DrawService) GetDrawStatus(ctx context.Context, drawID string) (DrawStatusView, error) {
	draw, err := s.getDraw(ctx, drawID)
	if err != nil {
		return DrawStatusView{}, err
	}
	count, err := s.Store.Tickets().CountTickets(ctx, drawID)
	if err != nil {
		return DrawStatusView{}, fmt.Errorf("failed to count tickets: %w", err)
	}
	return DrawStatusView{Draw: draw, TicketCount: count}, nil
}

// PurchaseTicket allocates the next sequential ticket number and debits
// the buyer, keeping the dense [1, tickets_sold] numbering transactional.
func (s *DrawService) PurchaseTicket(ctx context.Context, drawID, userID string) (domain.Ticket, error) {
	var ticket domain.Ticket

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		draw, err := tx.Draws().GetDrawByID(ctx, drawID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrDrawNotFound
			}
			return fmt.Errorf("failed to load draw: %w", err)
		}
		if draw.Status != domain.DrawStatusActive {
			return ErrInvalidState
		}

		sold, err := tx.Draws().IncrementTicketsSold(ctx, drawID)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrSoldOut
			}
			return fmt.Errorf("failed to allocate ticket number: %w", err)
		}

		if err := tx.Wallets().DebitAccount(ctx, userID, draw.TicketPrice); err != nil {
			if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
				return ErrInsufficientFunds
			}
			return fmt.Errorf("failed to debit wallet: %w", err)
		}

		ticket = domain.Ticket{
			ID:           idx.New().String(),
			DrawID:       drawID,
			TicketNumber: sold,
			UserID:       userID,
		}
		if err := tx.Tickets().CreateTicket(ctx, ticket); err != nil {
			return fmt.Errorf("failed to persist ticket: %w", err)
		}

		ledger := domain.WalletTransaction{
			ID:        idx.New().String(),
			UserID:    userID,
			Kind:      domain.TransactionKindTicketPurchase,
			Amount:    draw.TicketPrice.Neg(),
			Reference: drawID,
			Detail:    fmt.Sprintf(`{"ticket_number":%d}`, sold),
		}
		return tx.Wallets().CreateTransaction(ctx, ledger)
	})
	if err != nil {
		return domain.Ticket{}, err
	}

	s.Audit.Record(ctx, "ticket_purchased", "lottery_ticket", ticket.ID, userID,
		domain.AuditSeverityInfo, map[string]any{"draw_id": drawID, "ticket_number": ticket.TicketNumber})

	return ticket, nil
}

// CancelDraw closes an active draw without selecting a winner and refunds
// every sold ticket.
func (s *DrawService) CancelDraw(ctx context.Context, drawID string) error {
	draw, err := s.getDraw(ctx, drawID)
	if err != nil {
		return err
	}
	if draw.Status != domain.DrawStatusActive {
		return ErrInvalidState
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Draws().CancelDraw(ctx, drawID); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return ErrInvalidState
			}
			return fmt.Errorf("failed to cancel draw: %w", err)
		}

		for n := int64(1); n <= draw.TicketsSold; n++ {
			ticket, err := tx.Tickets().GetTicketByNumber(ctx, drawID, n)
			if err != nil {
				return fmt.Errorf("failed to load ticket %d for refund: %w", n, err)
			}
			if err := tx.Wallets().CreditAccount(ctx, ticket.UserID, draw.TicketPrice); err != nil {
				return fmt.Errorf("failed to refund ticket %d: %w", n, err)
			}
			ledger := domain.WalletTransaction{
				ID:        idx.New().String(),
				UserID:    ticket.UserID,
				Kind:      domain.TransactionKindTicketRefund,
				Amount:    draw.TicketPrice,
				Reference: drawID,
				Detail:    fmt.Sprintf(`{"ticket_number":%d}`, n),
			}
			if err := tx.Wallets().CreateTransaction(ctx, ledger); err != nil {
				return fmt.Errorf("failed to append refund ledger row: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.Audit.Record(ctx, "draw_cancelled", "lottery_draw", drawID, "",
		domain.AuditSeverityCritical, map[string]any{"tickets_refunded": draw.TicketsSold})

	return nil
}

func (s *DrawService) getDraw(ctx context.Context, drawID string) (domain.Draw, error) {
	draw, err := s.Store.Draws().GetDrawByID(ctx, drawID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Draw{}, ErrDrawNotFound
		}
		return domain.Draw{}, fmt.Errorf("failed to load draw: %w", err)
	}
	return draw, nil
}

// winningTicketNumber reduces a 256-bit hex value modulo the ticket count.
// Ticket numbers start at 1, hence the +1 offset. The modulo bias against
// realistic ticket counts is negligible for a 256-bit value.
func winningTicketNumber(randomHex string, ticketsSold int64) (int64, error) {
	r, ok := new(big.Int).SetString(randomHex, 16)
	if !ok {
		return 0, fmt.Errorf("non-hex random value %q", randomHex)
	}
	mod := new(big.Int).Mod(r, big.NewInt(ticketsSold))
	return mod.Int64() + 1, nil
}

func drawSeed(drawID string, ticketsSold int64) string {
	return fmt.Sprintf("%s:%d", drawID, ticketsSold)
}
