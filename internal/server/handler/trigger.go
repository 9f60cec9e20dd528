package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/omniswap/swapd/internal/domain"
	"github.com/omniswap/swapd/internal/service"
)

// TriggerService defines the methods that the trigger handler requires from
// the service layer.
type TriggerService interface {
	CreateTrigger(ctx context.Context, req service.CreateTriggerRequest) (domain.TriggerCondition, error)
	GetTrigger(ctx context.Context, id string) (domain.TriggerCondition, error)
	ListUserTriggers(ctx context.Context, userAddress string, opts domain.ListOpts) ([]domain.TriggerCondition, error)
	CancelTrigger(ctx context.Context, id string) error
}

// TriggerHandler serves trigger condition HTTP endpoints.
type TriggerHandler struct {
	triggers TriggerService
	logger   *slog.Logger
}

// NewTriggerHandler creates a TriggerHandler with the given service and logger.
func NewTriggerHandler(triggers TriggerService, logger *slog.Logger) *TriggerHandler {
	return &TriggerHandler{
		triggers: triggers,
		logger:   logger,
	}
}

type createTriggerRequest struct {
	Kind        string     `json:"kind"`
	UserAddress string     `json:"user_address"`
	TenantID    string     `json:"tenant_id,omitempty"`
	Token       string     `json:"token,omitempty"`
	Chain       string     `json:"chain,omitempty"`
	Comparison  string     `json:"comparison,omitempty"`
	TargetPrice string     `json:"target_price,omitempty"`
	FromToken   string     `json:"from_token,omitempty"`
	ToToken     string     `json:"to_token,omitempty"`
	Amount      string     `json:"amount,omitempty"`
	SlippageBps int64      `json:"slippage_bps,omitempty"`
	IntervalSec int64      `json:"interval_sec,omitempty"`
	StartAt     *time.Time `json:"start_at,omitempty"`
}

type triggerDTO struct {
	ID              string     `json:"id"`
	Kind            string     `json:"kind"`
	UserAddress     string     `json:"user_address"`
	TenantID        string     `json:"tenant_id,omitempty"`
	Token           string     `json:"token,omitempty"`
	Chain           string     `json:"chain,omitempty"`
	Comparison      string     `json:"comparison,omitempty"`
	TargetPrice     string     `json:"target_price,omitempty"`
	FromToken       string     `json:"from_token,omitempty"`
	ToToken         string     `json:"to_token,omitempty"`
	Amount          string     `json:"amount,omitempty"`
	SlippageBps     int64      `json:"slippage_bps,omitempty"`
	IntervalSec     int64      `json:"interval_sec,omitempty"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
	Active          bool       `json:"active"`
	ExecutionNumber int        `json:"execution_number"`
	FiredAt         *time.Time `json:"fired_at,omitempty"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toTriggerDTO(c domain.TriggerCondition) triggerDTO {
	return triggerDTO{
		ID:              c.ID,
		Kind:            string(c.Kind),
		UserAddress:     c.UserAddress,
		TenantID:        c.TenantID,
		Token:           c.Token,
		Chain:           c.Chain,
		Comparison:      string(c.Comparison),
		TargetPrice:     c.TargetPrice,
		FromToken:       c.FromToken,
		ToToken:         c.ToToken,
		Amount:          c.Amount,
		SlippageBps:     c.SlippageBps,
		IntervalSec:     c.IntervalSec,
		NextRunAt:       c.NextRunAt,
		Active:          c.Active,
		ExecutionNumber: c.ExecutionNumber,
		FiredAt:         c.FiredAt,
		LastCheckedAt:   c.LastCheckedAt,
		CreatedAt:       c.CreatedAt,
	}
}

// CreateTrigger registers a standing price alert, limit swap, or recurring
// swap condition.
// POST /api/triggers
func (h *TriggerHandler) CreateTrigger(w http.ResponseWriter, r *http.Request) {
	var req createTriggerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body: "+err.Error())
		return
	}

	cond, err := h.triggers.CreateTrigger(r.Context(), service.CreateTriggerRequest{
		Kind:        domain.TriggerKind(req.Kind),
		UserAddress: req.UserAddress,
		TenantID:    req.TenantID,
		Token:       req.Token,
		Chain:       req.Chain,
		Comparison:  domain.Comparison(req.Comparison),
		TargetPrice: req.TargetPrice,
		FromToken:   req.FromToken,
		ToToken:     req.ToToken,
		Amount:      req.Amount,
		SlippageBps: req.SlippageBps,
		IntervalSec: req.IntervalSec,
		StartAt:     req.StartAt,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, codeTriggerNotFound)
		return
	}
	writeData(w, http.StatusCreated, toTriggerDTO(cond))
}

// GetTrigger returns a single trigger condition.
// GET /api/triggers/{id}
func (h *TriggerHandler) GetTrigger(w http.ResponseWriter, r *http.Request) {
	cond, err := h.triggers.GetTrigger(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, codeTriggerNotFound)
		return
	}
	writeData(w, http.StatusOK, toTriggerDTO(cond))
}

// ListUserTriggers returns a user's conditions, newest first.
// GET /api/users/{address}/triggers?limit=20&offset=0
func (h *TriggerHandler) ListUserTriggers(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if address == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "user address required")
		return
	}

	conds, err := h.triggers.ListUserTriggers(r.Context(), address, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, codeTriggerNotFound)
		return
	}

	dtos := make([]triggerDTO, len(conds))
	for i, c := range conds {
		dtos[i] = toTriggerDTO(c)
	}
	writeData(w, http.StatusOK, map[string]any{"triggers": dtos})
}

// CancelTrigger deactivates a condition. Cancelling an already-inactive
// condition succeeds.
// DELETE /api/triggers/{id}
func (h *TriggerHandler) CancelTrigger(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.triggers.CancelTrigger(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, err, codeTriggerNotFound)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"id": id, "active": false})
}
