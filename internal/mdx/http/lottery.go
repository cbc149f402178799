package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tamv/mdx/internal/mdx/domain"
	"github.com/tamv/mdx/internal/mdx/service"
	"github.com/tamv/mdx/pkg/httpx"
	"github.com/tamv/mdx/pkg/slogx"
)

// VerifiableDrawHandler serves the action-discriminated draw endpoint.
type VerifiableDrawHandler struct {
	DrawService *service.DrawService
}

type verifiableDrawRequest struct {
	Action string `json:"action"`
	DrawID string `json:"draw_id,omitempty"`

	// request_randomness accepts an opaque subscription reference from the
	// caller; it is accepted and ignored, randomness requests are tracked
	// by the generated request id.
	SubscriptionID string `json:"subscription_id,omitempty"`

	// buy_ticket
	UserID string `json:"user_id,omitempty"`

	// create_draw
	Name        string `json:"name,omitempty"`
	PrizePool   string `json:"prize_pool,omitempty"`
	TicketPrice string `json:"ticket_price,omitempty"`
	MaxTickets  int64  `json:"max_tickets,omitempty"`
	DrawDate    string `json:"draw_date,omitempty"`
}

// drawView is the wire shape of a draw row.
type drawView struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	PrizePool    string  `json:"prize_pool"`
	TicketPrice  string  `json:"ticket_price"`
	MaxTickets   int64   `json:"max_tickets"`
	TicketsSold  int64   `json:"tickets_sold"`
	Status       string  `json:"status"`
	DrawDate     string  `json:"draw_date"`
	WinnerUserID *string `json:"winner_user_id,omitempty"`
	CompletedAt  *string `json:"completed_at,omitempty"`
}

func newDrawView(d domain.Draw) drawView {
	v := drawView{
		ID:           d.ID,
		Name:         d.Name,
		PrizePool:    d.PrizePool.String(),
		TicketPrice:  d.TicketPrice.String(),
		MaxTickets:   d.MaxTickets,
		TicketsSold:  d.TicketsSold,
		Status:       string(d.Status),
		DrawDate:     d.DrawDate.UTC().Format(time.RFC3339),
		WinnerUserID: d.WinnerUserID,
	}
	if d.CompletedAt != nil {
		s := d.CompletedAt.UTC().Format(time.RFC3339)
		v.CompletedAt = &s
	}
	return v
}

func (h *VerifiableDrawHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req verifiableDrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeActionError(w, log, errors.New("invalid JSON body"))
		return
	}

	switch req.Action {
	case "create_draw":
		prizePool, err := decimal.NewFromString(req.PrizePool)
		if err != nil {
			writeActionError(w, log, errors.New("prize_pool must be a decimal string"))
			return
		}
		ticketPrice, err := decimal.NewFromString(req.TicketPrice)
		if err != nil {
			writeActionError(w, log, errors.New("ticket_price must be a decimal string"))
			return
		}
		drawDate, err := time.Parse(time.RFC3339, req.DrawDate)
		if err != nil {
			writeActionError(w, log, errors.New("draw_date must be RFC 3339"))
			return
		}

		draw, err := h.DrawService.CreateDraw(ctx, req.Name, prizePool, ticketPrice, req.MaxTickets, drawDate)
		if err != nil {
			writeActionError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"draw":    newDrawView(draw),
		})

	case "buy_ticket":
		if req.DrawID == "" || req.UserID == "" {
			writeActionError(w, log, errors.New("draw_id and user_id are required"))
			return
		}
		ticket, err := h.DrawService.PurchaseTicket(ctx, req.DrawID, req.UserID)
		if err != nil {
			writeActionError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"ticket_id":     ticket.ID,
			"ticket_number": ticket.TicketNumber,
		})

	case "request_randomness":
		if req.DrawID == "" {
			writeActionError(w, log, errors.New("draw_id is required"))
			return
		}
		requestID, err := h.DrawService.RequestRandomness(ctx, req.DrawID)
		if err != nil {
			writeActionError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"request_id": requestID,
			"message":    "randomness requested, draw frozen",
		})

	case "execute_draw":
		if req.DrawID == "" {
			writeActionError(w, log, errors.New("draw_id is required"))
			return
		}
		result, err := h.DrawService.ExecuteDraw(ctx, req.DrawID)
		if err != nil {
			writeActionError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"winner": map[string]any{
				"ticket_number": result.TicketNumber,
				"user_id":       result.WinnerUserID,
				"prize_amount":  result.PrizeAmount.String(),
			},
			"vrf": result.Artifact,
			"quantum_split": map[string]any{
				"winner_amount": result.PrizeAmount.String(),
				"house_amount":  "0",
			},
		})

	case "verify_randomness":
		if req.DrawID == "" {
			writeActionError(w, log, errors.New("draw_id is required"))
			return
		}
		result, err := h.DrawService.VerifyRandomness(ctx, req.DrawID)
		if err != nil {
			writeActionError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success":     true,
			"verified":    result.Verified,
			"draw_status": string(result.Status),
			"vrf_data":    result.Artifact,
		})

	case "get_draw_status":
		if req.DrawID == "" {
			writeActionError(w, log, errors.New("draw_id is required"))
			return
		}
		status, err := h.DrawService.GetDrawStatus(ctx, req.DrawID)
		if err != nil {
			writeActionError(w, log, err)
			return
		}
		view := newDrawView(status.Draw)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"draw":         view,
			"ticket_count": status.TicketCount,
		})

	case "cancel_draw":
		if req.DrawID == "" {
			writeActionError(w, log, errors.New("draw_id is required"))
			return
		}
		if err := h.DrawService.CancelDraw(ctx, req.DrawID); err != nil {
			writeActionError(w, log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "draw cancelled, tickets refunded",
		})

	default:
		writeActionError(w, log, errors.New("unknown action"))
	}
}
