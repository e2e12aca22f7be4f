package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/vultisig/payroll/internal/types"
	"github.com/vultisig/payroll/plugin/payroll"
	"github.com/vultisig/payroll/service"
)

type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Message: message,
		Code:    code,
	}
}

var errBadRequest = errors.New("invalid request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) (int, string) {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest, "invalid_request"
	}
	code := payroll.Code(err)
	switch code {
	case "invalid_rate", "invalid_amount", "empty_batch", "invalid_address":
		return http.StatusBadRequest, code
	case "insufficient_funds", "contract_rejected":
		return http.StatusUnprocessableEntity, code
	case "operation_in_flight", "request_pending":
		return http.StatusConflict, code
	case "user_rejected":
		return http.StatusForbidden, code
	case "timeout":
		return http.StatusGatewayTimeout, code
	default:
		return http.StatusBadGateway, code
	}
}

type PayeeRequest struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	FiatAmount string `json:"fiat_amount"`
}

type RosterRequest struct {
	Payees []PayeeRequest `json:"payees" validate:"required"`
}

// roster converts request rows into roster records. A blank amount becomes
// zero so the row is filtered out like any other incomplete row.
func (r RosterRequest) roster() ([]types.PayeeRecord, error) {
	out := make([]types.PayeeRecord, 0, len(r.Payees))
	for i, p := range r.Payees {
		amount := decimal.Zero
		if raw := strings.TrimSpace(p.FiatAmount); raw != "" {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, badRequest("row %d: fiat_amount %q is not a number", i+1, p.FiatAmount)
			}
			amount = d
		}
		out = append(out, types.PayeeRecord{
			Name:       p.Name,
			Address:    p.Address,
			FiatAmount: amount,
		})
	}
	return out, nil
}

type FundRequest struct {
	// Amount in whole tokens, e.g. "12.5".
	Amount string `json:"amount" validate:"required"`
}

type RateResponse struct {
	Price     string    `json:"price"`
	FetchedAt time.Time `json:"fetched_at"`
	Fallback  bool      `json:"fallback"`
}

func newRateResponse(rate types.ExchangeRate) RateResponse {
	return RateResponse{Price: rate.Price.String(), FetchedAt: rate.FetchedAt, Fallback: rate.Fallback}
}

type PoolResponse struct {
	Address   string    `json:"address"`
	Balance   string    `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

type BatchPayeeResponse struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type BatchResponse struct {
	Payees      []BatchPayeeResponse `json:"payees"`
	TotalAmount string               `json:"total_amount"`
	FiatTotal   string               `json:"fiat_total"`
	Rate        RateResponse         `json:"rate"`
}

func newBatchResponse(preview service.BatchPreview) BatchResponse {
	resp := BatchResponse{
		Payees:      make([]BatchPayeeResponse, 0, preview.Batch.Len()),
		TotalAmount: payroll.FormatTokenAmount(preview.Batch.TotalAmount),
		FiatTotal:   preview.FiatTotal.StringFixed(2),
		Rate:        newRateResponse(preview.Rate),
	}
	for i := range preview.Batch.Recipients {
		resp.Payees = append(resp.Payees, BatchPayeeResponse{
			Name:    preview.Batch.Names[i],
			Address: preview.Batch.Recipients[i].Hex(),
			Amount:  payroll.FormatTokenAmount(preview.Batch.Amounts[i]),
		})
	}
	return resp
}

type SubmissionResponse struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Hash        string    `json:"hash"`
	Amount      string    `json:"amount"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
	BlockNumber *uint64   `json:"block_number,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorCode   string    `json:"error_code,omitempty"`
	ExplorerURL string    `json:"explorer_url"`
}

type SubmitResponse struct {
	Submission SubmissionResponse `json:"submission"`
	Batch      *BatchResponse     `json:"batch,omitempty"`
}

func (s *Server) newSubmissionResponse(sub *payroll.Submission) SubmissionResponse {
	status := sub.Status()
	resp := SubmissionResponse{
		ID:          sub.ID.String(),
		Kind:        string(sub.Kind),
		Hash:        sub.Hash.Hex(),
		Amount:      payroll.FormatTokenAmount(sub.Amount),
		State:       string(status.State),
		SubmittedAt: sub.SubmittedAt,
		BlockNumber: status.BlockNumber,
		ExplorerURL: s.explorerURL(sub.Hash),
	}
	if status.Err != nil {
		resp.Error = status.Err.Error()
		resp.ErrorCode = payroll.Code(status.Err)
	}
	return resp
}

type RecordResponse struct {
	Kind           string    `json:"kind"`
	RecipientCount int       `json:"recipient_count"`
	TotalAmount    string    `json:"total_amount"`
	OccurredAt     time.Time `json:"occurred_at"`
	Hash           string    `json:"hash"`
	BlockNumber    *uint64   `json:"block_number,omitempty"`
	Pending        bool      `json:"pending"`
	ExplorerURL    string    `json:"explorer_url"`
}

type PartialResponse struct {
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

type HistoryResponse struct {
	Version uint64           `json:"version"`
	Total   int              `json:"total"`
	Records []RecordResponse `json:"records"`
	Partial *PartialResponse `json:"partial,omitempty"`
}

func (s *Server) newHistoryResponse(ledger types.Ledger, partial *payroll.PartialHistoryFetchError) HistoryResponse {
	resp := HistoryResponse{
		Version: ledger.Version,
		Total:   len(ledger.Records),
		Records: make([]RecordResponse, 0, len(ledger.Records)),
	}
	for _, record := range ledger.Records {
		resp.Records = append(resp.Records, RecordResponse{
			Kind:           string(record.Kind),
			RecipientCount: record.RecipientCount,
			TotalAmount:    payroll.FormatTokenAmount(record.TotalAmount),
			OccurredAt:     record.OccurredAt,
			Hash:           record.Hash.Hex(),
			BlockNumber:    record.BlockNumber,
			Pending:        !record.Confirmed(),
			ExplorerURL:    s.explorerURL(record.Hash),
		})
	}
	if partial != nil {
		resp.Partial = &PartialResponse{Skipped: partial.Skipped, Errors: make([]string, 0, len(partial.Errs))}
		for _, err := range partial.Errs {
			resp.Partial.Errors = append(resp.Partial.Errors, err.Error())
		}
	}
	return resp
}

type SummaryResponse struct {
	TotalDeposited  string `json:"total_deposited"`
	TotalDisbursed  string `json:"total_disbursed"`
	DepositCount    int    `json:"deposit_count"`
	PayrollCount    int    `json:"payroll_count"`
	TotalRecipients int    `json:"total_recipients"`
	Pending         int    `json:"pending"`
	PoolBalance     string `json:"pool_balance"`
}

func (s *Server) explorerURL(hash common.Hash) string {
	return s.plugin.ExplorerTxURL(hash)
}
