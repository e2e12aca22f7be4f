package payroll

import (
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type SubmissionKind string

const (
	SubmissionFund     SubmissionKind = "fund"
	SubmissionDisburse SubmissionKind = "disburse"
	SubmissionWithdraw SubmissionKind = "withdraw"
)

type SubmissionState string

const (
	StateIdle       SubmissionState = "idle"
	StateSubmitting SubmissionState = "submitting"
	StatePending    SubmissionState = "pending"
	StateConfirmed  SubmissionState = "confirmed"
	StateTimedOut   SubmissionState = "timed_out"
	StateRejected   SubmissionState = "rejected"
)

// Terminal reports whether no further transition can happen.
func (s SubmissionState) Terminal() bool {
	return s == StateConfirmed || s == StateTimedOut || s == StateRejected
}

// Submission tracks one money-moving transaction from signing to its
// terminal state. Identity fields are fixed once the transaction is accepted
// by the node.
type Submission struct {
	ID          uuid.UUID
	Kind        SubmissionKind
	Amount      *big.Int
	Hash        common.Hash
	SubmittedAt time.Time

	status atomic.Pointer[SubmissionStatus]
	done   chan struct{}
}

// SubmissionStatus is a point-in-time view of a submission.
type SubmissionStatus struct {
	State       SubmissionState
	Err         error
	BlockNumber *uint64
}

func newSubmission(kind SubmissionKind, amount *big.Int) *Submission {
	sub := &Submission{
		ID:     uuid.New(),
		Kind:   kind,
		Amount: new(big.Int).Set(amount),
		done:   make(chan struct{}),
	}
	sub.status.Store(&SubmissionStatus{State: StateIdle})
	return sub
}

func (s *Submission) Status() SubmissionStatus {
	return *s.status.Load()
}

func (s *Submission) State() SubmissionState {
	return s.Status().State
}

// Done is closed once the submission reaches a terminal state.
func (s *Submission) Done() <-chan struct{} {
	return s.done
}

func (s *Submission) transition(state SubmissionState) {
	for {
		current := s.status.Load()
		if current.State.Terminal() {
			return
		}
		if s.status.CompareAndSwap(current, &SubmissionStatus{State: state}) {
			return
		}
	}
}

// finish moves the submission into a terminal state. Only the first call wins.
func (s *Submission) finish(state SubmissionState, err error, blockNumber *uint64) bool {
	next := &SubmissionStatus{State: state, Err: err, BlockNumber: blockNumber}
	for {
		current := s.status.Load()
		if current.State.Terminal() {
			return false
		}
		if s.status.CompareAndSwap(current, next) {
			close(s.done)
			return true
		}
	}
}
