// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transfer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/bridge/attestation"
	"github.com/luxfi/bridge/utils/timer/mockable"
)

var (
	ErrUnknownTransfer   = errors.New("unknown transfer")
	ErrAlreadyPending    = errors.New("transfer already pending")
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrReplayed marks a silent idempotent rejection: the transfer is
	// already settled and the operation is dropped without state change.
	ErrReplayed = errors.New("transfer already settled")
)

// StateMachine owns the lifecycle of every transfer. All transitions
// pass through the replay guard before any status mutation.
type StateMachine struct {
	db     database.Database
	replay *ReplayGuard
	clock  *mockable.Clock
	log    log.Logger

	refundGrace time.Duration

	mu      sync.RWMutex
	pending map[ids.ID]*Transfer
}

// StateMachineParams configures a StateMachine.
type StateMachineParams struct {
	DB          database.Database
	ReplayGuard *ReplayGuard
	RefundGrace time.Duration
	Clock       *mockable.Clock
	Log         log.Logger
}

// NewStateMachine creates a state machine with no pending transfers.
func NewStateMachine(params StateMachineParams) *StateMachine {
	clock := params.Clock
	if clock == nil {
		clock = &mockable.Clock{}
	}
	logger := params.Log
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &StateMachine{
		db:          params.DB,
		replay:      params.ReplayGuard,
		clock:       clock,
		log:         logger,
		refundGrace: params.RefundGrace,
		pending:     make(map[ids.ID]*Transfer),
	}
}

// Create registers a transfer for a sighted lock event in status
// Initiated. Creating a settled or already-pending transfer is rejected.
func (sm *StateMachine) Create(
	sourceChain ids.ID,
	destChain ids.ID,
	sender []byte,
	recipient []byte,
	amount uint64,
	nonce uint64,
	timeout time.Duration,
) (*Transfer, error) {
	transferID := DeriveID(sourceChain, nonce)

	if sm.replay.Check("create", transferID) {
		return nil, fmt.Errorf("%w: %s", ErrReplayed, transferID)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := sm.pending[transferID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPending, transferID)
	}

	now := sm.clock.Time()
	t := &Transfer{
		ID:          transferID,
		SourceChain: sourceChain,
		DestChain:   destChain,
		Sender:      sender,
		Recipient:   recipient,
		Amount:      amount,
		Nonce:       nonce,
		Status:      StatusInitiated,
		CreatedAt:   now,
		ExpiresAt:   now.Add(timeout),
	}

	if err := putTransfer(sm.db, t); err != nil {
		return nil, err
	}
	sm.pending[transferID] = t

	sm.log.Info("transfer initiated",
		log.Stringer("transferID", transferID),
		log.Stringer("sourceChain", sourceChain),
		log.Stringer("destChain", destChain),
		log.Uint64("amount", amount),
		log.Uint64("nonce", nonce),
	)
	return t, nil
}

// Transition moves a pending transfer to a new status. Transitions on
// settled transfers are replay-rejected; illegal steps fail with
// ErrInvalidTransition. Terminal statuses are recorded in the replay
// guard before the mutation is visible.
func (sm *StateMachine) Transition(transferID ids.ID, to Status) error {
	if status, settled := sm.replay.Settled(transferID); settled && status.Terminal() {
		sm.log.Debug("transition dropped for settled transfer",
			log.Stringer("transferID", transferID),
			log.Stringer("status", status),
		)
		return fmt.Errorf("%w: %s", ErrReplayed, transferID)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	t, ok := sm.pending[transferID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}

	from := t.Status
	t.Status = to

	switch {
	case to == StatusDisputed:
		t.DisputedFrom = from
	case from == StatusDisputed:
		t.DisputedFrom = 0
	}

	switch {
	case to == StatusExpired:
		t.RefundAvailableAt = sm.clock.Time().Add(sm.refundGrace)
		// expired transfers accept no further attestations or mints,
		// but remain pending until refunded
		if err := sm.replay.Mark(transferID, to); err != nil {
			t.Status = from
			return err
		}
	case to.Terminal():
		if err := sm.replay.Mark(transferID, to); err != nil {
			t.Status = from
			return err
		}
	}

	if err := putTransfer(sm.db, t); err != nil {
		return err
	}
	if to.Terminal() {
		delete(sm.pending, transferID)
	}

	sm.log.Info("transfer transitioned",
		log.Stringer("transferID", transferID),
		log.Stringer("from", from),
		log.Stringer("to", to),
	)
	return nil
}

// AttachAttestation records an accepted attestation on the transfer.
func (sm *StateMachine) AttachAttestation(transferID ids.ID, att *attestation.Attestation) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	t, ok := sm.pending[transferID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}
	t.Attestations = append(t.Attestations, att)
	return putTransfer(sm.db, t)
}

// SetMintTx records the destination-chain transaction hash of the mint
// and the fee that was withheld from it.
func (sm *StateMachine) SetMintTx(transferID ids.ID, txID ids.ID, fee uint64) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	t, ok := sm.pending[transferID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}
	t.MintTxID = txID
	t.FeeAmount = fee
	return putTransfer(sm.db, t)
}

// Get returns a copy of a transfer, pending or settled.
func (sm *StateMachine) Get(transferID ids.ID) (Transfer, error) {
	sm.mu.RLock()
	if t, ok := sm.pending[transferID]; ok {
		cp := *t
		sm.mu.RUnlock()
		return cp, nil
	}
	sm.mu.RUnlock()

	t, err := getTransfer(sm.db, transferID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Transfer{}, fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
		}
		return Transfer{}, err
	}
	return *t, nil
}

// Settled reports the recorded status of a transfer the replay guard
// considers closed to further operations, if any.
func (sm *StateMachine) Settled(transferID ids.ID) (Status, bool) {
	return sm.replay.Settled(transferID)
}

// Pending returns a snapshot of all non-terminal transfers.
func (sm *StateMachine) Pending() []Transfer {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make([]Transfer, 0, len(sm.pending))
	for _, t := range sm.pending {
		out = append(out, *t)
	}
	return out
}

// ExpireDue moves every pending transfer whose deadline has passed
// without finalization into Expired and returns their IDs. A transfer
// whose mint was already submitted never expires: the destination
// payout may land at any time, so the refund path must stay closed.
func (sm *StateMachine) ExpireDue() []ids.ID {
	now := sm.clock.Time()

	sm.mu.RLock()
	var due []ids.ID
	for transferID, t := range sm.pending {
		if t.MintTxID != ids.Empty {
			continue
		}
		switch t.Status {
		case StatusInitiated, StatusConfirmed, StatusAttesting, StatusDisputed:
			if now.After(t.ExpiresAt) {
				due = append(due, transferID)
			}
		}
	}
	sm.mu.RUnlock()

	expired := make([]ids.ID, 0, len(due))
	for _, transferID := range due {
		if err := sm.Transition(transferID, StatusExpired); err == nil {
			expired = append(expired, transferID)
		}
	}
	return expired
}

// RefundDue returns expired transfers whose grace period has elapsed,
// i.e. those for which the source-ledger refund may now be submitted.
func (sm *StateMachine) RefundDue() []Transfer {
	now := sm.clock.Time()

	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var out []Transfer
	for _, t := range sm.pending {
		if t.Status == StatusExpired && t.MintTxID == ids.Empty && now.After(t.RefundAvailableAt) {
			out = append(out, *t)
		}
	}
	return out
}

// ResolveDispute returns a Disputed transfer to service once its
// slashing case closed. A transfer with a submitted mint always
// resumes as Finalized so the destination payout stays the only one.
func (sm *StateMachine) ResolveDispute(transferID ids.ID) error {
	sm.mu.RLock()
	t, ok := sm.pending[transferID]
	if !ok {
		sm.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrUnknownTransfer, transferID)
	}
	if t.Status != StatusDisputed {
		sm.mu.RUnlock()
		return fmt.Errorf("%w: %s is not disputed", ErrInvalidTransition, t.Status)
	}
	target := t.DisputedFrom
	if t.MintTxID != ids.Empty {
		target = StatusFinalized
	} else if target == 0 {
		target = StatusAttesting
	}
	sm.mu.RUnlock()

	return sm.Transition(transferID, target)
}
