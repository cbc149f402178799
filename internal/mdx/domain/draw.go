package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DrawStatus is one-directional: active -> drawing -> completed, with
// cancelled reachable only from active.
type DrawStatus string

const (
	DrawStatusActive    DrawStatus = "active"
	DrawStatusDrawing   DrawStatus = "drawing"
	DrawStatusCompleted DrawStatus = "completed"
	DrawStatusCancelled DrawStatus = "cancelled"
)

// Draw is a prize pool with a ticket sale window. WinnerUserID,
// RandomValue and Proof are set together, exactly once, on the transition
// into completed.
type Draw struct {
	ID           string
	Name         string
	PrizePool    decimal.Decimal
	TicketPrice  decimal.Decimal
	MaxTickets   int64
	TicketsSold  int64
	Status       DrawStatus
	DrawDate     time.Time
	WinnerUserID *string
	RandomValue  *string
	Proof        *string
	RequestID    *string
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

// Ticket is one entry in a draw. Numbers are dense in [1, tickets_sold].
type Ticket struct {
	ID           string
	DrawID       string
	TicketNumber int64
	UserID       string
	IsWinner     bool
	CreatedAt    time.Time
}

// RandomnessArtifact is the verifiable randomness record attached to a
// completed draw.
type RandomnessArtifact struct {
	RandomValue string `json:"random_number"`
	Proof       string `json:"proof"`
	RequestID   string `json:"request_id"`
}
