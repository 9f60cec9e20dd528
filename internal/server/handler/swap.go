package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/omniswap/swapd/internal/domain"
	"github.com/omniswap/swapd/internal/service"
)

// SwapService defines the methods that the swap handler requires from the
// service layer.
type SwapService interface {
	CreateSwap(ctx context.Context, req service.CreateSwapRequest) (domain.Swap, error)
	GetSwap(ctx context.Context, id string) (domain.Swap, error)
	GetPendingTransaction(ctx context.Context, swapID string, stepIndex int) (domain.StepTransaction, error)
	ExecuteStep(ctx context.Context, swapID string, stepIndex int, signedTx string) (domain.SubmitResult, error)
	ListUserSwaps(ctx context.Context, userAddress string, opts domain.ListOpts) ([]domain.Swap, error)
	ListSwapEvents(ctx context.Context, swapID string, opts domain.ListOpts) ([]domain.SwapEvent, error)
}

// SwapHandler serves swap lifecycle HTTP endpoints.
type SwapHandler struct {
	swaps  SwapService
	logger *slog.Logger
}

// NewSwapHandler creates a SwapHandler with the given service and logger.
func NewSwapHandler(swaps SwapService, logger *slog.Logger) *SwapHandler {
	return &SwapHandler{
		swaps:  swaps,
		logger: logger,
	}
}

type createSwapRequest struct {
	QuoteID     string          `json:"quote_id"`
	RouteID     string          `json:"route_id"`
	UserAddress string          `json:"user_address"`
	TenantID    string          `json:"tenant_id,omitempty"`
	Credentials *credentialsDTO `json:"credentials,omitempty"`
}

type credentialsDTO struct {
	Exchange  string `json:"exchange"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

type executeStepRequest struct {
	SignedTx string `json:"signed_tx"`
}

type routeStepDTO struct {
	Type           string `json:"type"`
	Chain          string `json:"chain"`
	ToChain        string `json:"to_chain,omitempty"`
	Protocol       string `json:"protocol"`
	FromToken      string `json:"from_token"`
	ToToken        string `json:"to_token"`
	AmountIn       string `json:"amount_in"`
	ExpectedOut    string `json:"expected_out"`
	MinOutput      string `json:"min_output"`
	EstGasLimit    uint64 `json:"est_gas_limit,omitempty"`
	EstDurationSec int64  `json:"est_duration_sec,omitempty"`
}

type stepExecutionDTO struct {
	StepIndex    int        `json:"step_index"`
	Status       string     `json:"status"`
	TxHash       string     `json:"tx_hash,omitempty"`
	BlockNumber  int64      `json:"block_number,omitempty"`
	ActualOutput string     `json:"actual_output,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type swapDTO struct {
	ID               string             `json:"id"`
	UserAddress      string             `json:"user_address"`
	TenantID         string             `json:"tenant_id,omitempty"`
	QuoteID          string             `json:"quote_id"`
	RouteID          string             `json:"route_id"`
	Status           string             `json:"status"`
	CurrentStepIndex int                `json:"current_step_index"`
	InputAmount      string             `json:"input_amount"`
	ExpectedOutput   string             `json:"expected_output"`
	ActualOutput     string             `json:"actual_output,omitempty"`
	PlatformFee      string             `json:"platform_fee,omitempty"`
	GasCost          string             `json:"gas_cost,omitempty"`
	Error            string             `json:"error,omitempty"`
	Route            []routeStepDTO     `json:"route"`
	Steps            []stepExecutionDTO `json:"steps"`
	CreatedAt        time.Time          `json:"created_at"`
	StartedAt        *time.Time         `json:"started_at,omitempty"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty"`
}

type stepTransactionDTO struct {
	To          string             `json:"to,omitempty"`
	Data        string             `json:"data,omitempty"`
	Value       string             `json:"value,omitempty"`
	GasLimit    uint64             `json:"gas_limit,omitempty"`
	Chain       string             `json:"chain"`
	Instruction *cexInstructionDTO `json:"instruction,omitempty"`
}

type cexInstructionDTO struct {
	Exchange string `json:"exchange"`
	Action   string `json:"action"`
	Symbol   string `json:"symbol"`
	Amount   string `json:"amount"`
	Address  string `json:"address,omitempty"`
	Memo     string `json:"memo,omitempty"`
}

type submitResultDTO struct {
	TxHash      string    `json:"tx_hash"`
	SubmittedAt time.Time `json:"submitted_at"`
	Final       bool      `json:"final"`
}

type swapEventDTO struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func toSwapDTO(s domain.Swap) swapDTO {
	dto := swapDTO{
		ID:               s.ID,
		UserAddress:      s.UserAddress,
		TenantID:         s.TenantID,
		QuoteID:          s.QuoteID,
		RouteID:          s.RouteID,
		Status:           string(s.Status),
		CurrentStepIndex: s.CurrentStepIndex,
		InputAmount:      s.InputAmount,
		ExpectedOutput:   s.ExpectedOutput,
		ActualOutput:     s.ActualOutput,
		PlatformFee:      s.PlatformFee,
		GasCost:          s.GasCost,
		Error:            s.Error,
		Route:            make([]routeStepDTO, len(s.Route)),
		Steps:            make([]stepExecutionDTO, len(s.Steps)),
		CreatedAt:        s.CreatedAt,
		StartedAt:        s.StartedAt,
		CompletedAt:      s.CompletedAt,
	}
	for i, rs := range s.Route {
		dto.Route[i] = routeStepDTO{
			Type:           string(rs.Type),
			Chain:          rs.Chain,
			ToChain:        rs.ToChain,
			Protocol:       rs.Protocol,
			FromToken:      rs.FromToken,
			ToToken:        rs.ToToken,
			AmountIn:       rs.AmountIn,
			ExpectedOut:    rs.ExpectedOut,
			MinOutput:      rs.MinOutput,
			EstGasLimit:    rs.EstGasLimit,
			EstDurationSec: rs.EstDurationSec,
		}
	}
	for i, st := range s.Steps {
		dto.Steps[i] = stepExecutionDTO{
			StepIndex:    st.StepIndex,
			Status:       string(st.Status),
			TxHash:       st.TxHash,
			BlockNumber:  st.BlockNumber,
			ActualOutput: st.ActualOutput,
			Error:        st.Error,
			StartedAt:    st.StartedAt,
			CompletedAt:  st.CompletedAt,
		}
	}
	return dto
}

func toStepTransactionDTO(tx domain.StepTransaction) stepTransactionDTO {
	dto := stepTransactionDTO{
		To:       tx.To,
		Data:     tx.Data,
		Value:    tx.Value,
		GasLimit: tx.GasLimit,
		Chain:    tx.Chain,
	}
	if tx.Instruction != nil {
		dto.Instruction = &cexInstructionDTO{
			Exchange: tx.Instruction.Exchange,
			Action:   string(tx.Instruction.Action),
			Symbol:   tx.Instruction.Symbol,
			Amount:   tx.Instruction.Amount,
			Address:  tx.Instruction.Address,
			Memo:     tx.Instruction.Memo,
		}
	}
	return dto
}

// CreateSwap opens a swap from a quoted route.
// POST /api/swaps
func (h *SwapHandler) CreateSwap(w http.ResponseWriter, r *http.Request) {
	var req createSwapRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body: "+err.Error())
		return
	}

	svcReq := service.CreateSwapRequest{
		QuoteID:     req.QuoteID,
		RouteID:     req.RouteID,
		UserAddress: req.UserAddress,
		TenantID:    req.TenantID,
	}
	if req.Credentials != nil {
		svcReq.Credentials = &domain.CEXCredentials{
			UserAddress: req.UserAddress,
			Exchange:    req.Credentials.Exchange,
			APIKey:      req.Credentials.APIKey,
			APISecret:   req.Credentials.APISecret,
		}
	}

	swap, err := h.swaps.CreateSwap(r.Context(), svcReq)
	if err != nil {
		writeServiceError(w, r, h.logger, err, codeSwapNotFound)
		return
	}
	writeData(w, http.StatusCreated, toSwapDTO(swap))
}

// GetSwap returns a swap with its route and full step history.
// GET /api/swaps/{id}
func (h *SwapHandler) GetSwap(w http.ResponseWriter, r *http.Request) {
	swap, err := h.swaps.GetSwap(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, codeSwapNotFound)
		return
	}
	writeData(w, http.StatusOK, toSwapDTO(swap))
}

// GetPendingTransaction returns the unsigned transaction for the swap's
// current step.
// GET /api/swaps/{id}/steps/{index}/transaction
func (h *SwapHandler) GetPendingTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.swaps.GetPendingTransaction(r.Context(), pathParam(r, "id"), pathIndex(r, "index"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, codeSwapNotFound)
		return
	}
	writeData(w, http.StatusOK, toStepTransactionDTO(tx))
}

// ExecuteStep submits a signed step transaction.
// POST /api/swaps/{id}/steps/{index}/execute
func (h *SwapHandler) ExecuteStep(w http.ResponseWriter, r *http.Request) {
	var req executeStepRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body: "+err.Error())
		return
	}

	res, err := h.swaps.ExecuteStep(r.Context(), pathParam(r, "id"), pathIndex(r, "index"), req.SignedTx)
	if err != nil {
		writeServiceError(w, r, h.logger, err, codeSwapNotFound)
		return
	}
	writeData(w, http.StatusAccepted, submitResultDTO{
		TxHash:      res.TxHash,
		SubmittedAt: res.SubmittedAt,
		Final:       res.Final,
	})
}

// ListUserSwaps returns a user's swaps, newest first.
// GET /api/users/{address}/swaps?limit=20&offset=0
func (h *SwapHandler) ListUserSwaps(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	if address == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "user address required")
		return
	}

	swaps, err := h.swaps.ListUserSwaps(r.Context(), address, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, codeSwapNotFound)
		return
	}

	dtos := make([]swapDTO, len(swaps))
	for i, s := range swaps {
		dtos[i] = toSwapDTO(s)
	}
	writeData(w, http.StatusOK, map[string]any{"swaps": dtos})
}

// ListSwapEvents returns a swap's transition history in insertion order.
// GET /api/swaps/{id}/events
func (h *SwapHandler) ListSwapEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.swaps.ListSwapEvents(r.Context(), pathParam(r, "id"), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err, codeSwapNotFound)
		return
	}

	dtos := make([]swapEventDTO, len(events))
	for i, ev := range events {
		dtos[i] = swapEventDTO{
			ID:        ev.ID,
			Type:      ev.Type,
			Detail:    ev.Detail,
			CreatedAt: ev.CreatedAt,
		}
	}
	writeData(w, http.StatusOK, map[string]any{"events": dtos})
}
