package payroll

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Validation errors. Nothing is sent to the chain when one of these is returned.
var (
	ErrInvalidRate    = errors.New("invalid exchange rate")
	ErrNegativeAmount = errors.New("negative amount")
	ErrZeroAmount     = errors.New("amount rounds to zero")
	ErrAmountTooLarge = errors.New("amount out of range")
	ErrEmptyBatch     = errors.New("no valid payees in roster")
)

// Submission errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUserRejected      = errors.New("user rejected the request")
	ErrRequestPending    = errors.New("a signing request is already pending")
	ErrTimeout           = errors.New("timed out waiting for the transaction")
)

// JSON-RPC codes used by wallets (EIP-1193).
const (
	codeUserRejected   = 4001
	codeRequestPending = -32002
)

type InvalidAddressError struct {
	Name    string
	Address string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid wallet address for %s: %q", e.Name, e.Address)
}

// ContractRejectedError is returned when the custody program refuses a call,
// either during execution (revert) or as a failed receipt.
type ContractRejectedError struct {
	Reason string
}

func (e *ContractRejectedError) Error() string {
	if e.Reason == "" {
		return "rejected by custody program"
	}
	return "rejected by custody program: " + e.Reason
}

type UnknownError struct {
	Message string
	Err     error
}

func (e *UnknownError) Error() string {
	return e.Message
}

func (e *UnknownError) Unwrap() error {
	return e.Err
}

// PartialHistoryFetchError reports events that were skipped while
// reconstructing history. It never aborts the reconstruction.
type PartialHistoryFetchError struct {
	Skipped int
	Errs    []error
}

func (e *PartialHistoryFetchError) Error() string {
	return fmt.Sprintf("history partially fetched: %d skipped: %v", e.Skipped, errors.Join(e.Errs...))
}

func (e *PartialHistoryFetchError) Unwrap() []error {
	return e.Errs
}

// revert messages emitted by the custody program
var contractRevertReasons = []string{
	"Not owner",
	"Insufficient balance",
	"Length mismatch",
}

// Classify maps an error raised while submitting or confirming a transaction
// onto the failure taxonomy, in priority order. Errors that are already part
// of the taxonomy are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if isTaxonomy(err) {
		return err
	}

	var rpcErr rpc.Error
	hasCode := errors.As(err, &rpcErr)
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case hasCode && rpcErr.ErrorCode() == codeUserRejected,
		strings.Contains(lower, "user rejected"),
		strings.Contains(lower, "user denied"):
		return fmt.Errorf("%w: %s", ErrUserRejected, msg)
	case hasCode && rpcErr.ErrorCode() == codeRequestPending,
		strings.Contains(lower, "already pending"):
		return fmt.Errorf("%w: %s", ErrRequestPending, msg)
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "timed out"):
		return fmt.Errorf("%w: %s", ErrTimeout, msg)
	case strings.Contains(lower, "insufficient funds"):
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, msg)
	}

	if reason, ok := revertReason(err); ok {
		return &ContractRejectedError{Reason: reason}
	}

	return &UnknownError{Message: msg, Err: err}
}

func isTaxonomy(err error) bool {
	for _, target := range []error{
		ErrInvalidRate, ErrNegativeAmount, ErrZeroAmount, ErrAmountTooLarge, ErrEmptyBatch, ErrInsufficientFunds,
		ErrUserRejected, ErrRequestPending, ErrTimeout, ErrOperationInFlight,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	var (
		addrErr     *InvalidAddressError
		rejectedErr *ContractRejectedError
		unknownErr  *UnknownError
	)
	return errors.As(err, &addrErr) || errors.As(err, &rejectedErr) || errors.As(err, &unknownErr)
}

// revertReason extracts the custody program's refusal reason, preferring the
// ABI-encoded revert data attached to the RPC error.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if raw, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(raw); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason, true
				}
			}
		}
	}

	msg := err.Error()
	for _, reason := range contractRevertReasons {
		if strings.Contains(msg, reason) {
			return reason, true
		}
	}
	if idx := strings.Index(msg, "execution reverted"); idx >= 0 {
		reason := strings.TrimSpace(strings.TrimPrefix(msg[idx+len("execution reverted"):], ":"))
		return reason, true
	}

	return "", false
}

// Code returns a stable identifier for the error's taxonomy member.
func Code(err error) string {
	var (
		addrErr     *InvalidAddressError
		rejectedErr *ContractRejectedError
		partialErr  *PartialHistoryFetchError
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRate):
		return "invalid_rate"
	case errors.Is(err, ErrNegativeAmount), errors.Is(err, ErrZeroAmount), errors.Is(err, ErrAmountTooLarge):
		return "invalid_amount"
	case errors.Is(err, ErrEmptyBatch):
		return "empty_batch"
	case errors.As(err, &addrErr):
		return "invalid_address"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrUserRejected):
		return "user_rejected"
	case errors.Is(err, ErrRequestPending):
		return "request_pending"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrOperationInFlight):
		return "operation_in_flight"
	case errors.As(err, &rejectedErr):
		return "contract_rejected"
	case errors.As(err, &partialErr):
		return "partial_history_fetch"
	default:
		return "unknown"
	}
}

// IsValidation reports whether err was raised before anything reached the chain.
func IsValidation(err error) bool {
	var addrErr *InvalidAddressError
	return errors.Is(err, ErrInvalidRate) ||
		errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrZeroAmount) ||
		errors.Is(err, ErrAmountTooLarge) ||
		errors.Is(err, ErrEmptyBatch) ||
		errors.As(err, &addrErr)
}
