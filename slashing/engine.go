// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package slashing penalizes validator misbehavior. Provable offenses
// are slashed immediately; accusations that depend on observation are
// held for a dispute window during which counter-evidence cancels the
// penalty.
package slashing

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/bridge/utils/timer/mockable"
	"github.com/luxfi/bridge/validators"
)

var (
	ErrUnknownCase     = errors.New("unknown slashing case")
	ErrCaseClosed      = errors.New("slashing case already closed")
	ErrWindowNotPassed = errors.New("dispute window still open")
)

// Reason classifies a slashable offense.
type Reason uint8

const (
	// Equivocation is two valid signatures from one validator over
	// conflicting payloads for the same transfer. It is
	// self-authenticating and slashed without a dispute window.
	Equivocation Reason = iota + 1

	// NonParticipation is failing to attest within the validation
	// window. Network conditions can explain it, so it is disputable.
	NonParticipation

	// InvalidAttestation is attesting to a transfer whose lock event
	// the accuser could not observe. Disputable.
	InvalidAttestation
)

func (r Reason) String() string {
	switch r {
	case Equivocation:
		return "equivocation"
	case NonParticipation:
		return "non-participation"
	case InvalidAttestation:
		return "invalid-attestation"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// Immediate reports whether the offense skips the dispute window.
func (r Reason) Immediate() bool {
	return r == Equivocation
}

// SlashEvent records a penalty that was applied or is pending.
type SlashEvent struct {
	ValidatorID     ids.NodeID
	Reason          Reason
	AmountSlashed   uint64
	Timestamp       time.Time
	DisputeDeadline time.Time
}

// CaseStatus tracks the lifecycle of a disputable accusation.
type CaseStatus uint8

const (
	CasePending CaseStatus = iota + 1
	CaseExecuted
	CaseCancelled
)

// Case is a disputable accusation held for the dispute window.
type Case struct {
	ID          ids.ID
	ValidatorID ids.NodeID
	Reason      Reason
	TransferID  ids.ID
	OpenedAt    time.Time
	Deadline    time.Time
	Status      CaseStatus
}

// DisputeHook is told when an accusation implicates a transfer, so the
// transfer can be held in Disputed until the case resolves.
type DisputeHook func(transferID ids.ID, validatorID ids.NodeID)

// ResolveHook is told when a case implicating a transfer closes, in
// either direction, so the held transfer can resume.
type ResolveHook func(transferID ids.ID, upheld bool)

// Params configures an Engine.
type Params struct {
	Registry         *validators.Registry
	SlashBasisPoints uint64
	DisputeWindow    time.Duration
	OnDispute        DisputeHook
	OnResolve        ResolveHook
	Clock            *mockable.Clock
	Log              log.Logger
}

// Engine applies the slashing policy against the validator registry.
type Engine struct {
	registry  *validators.Registry
	slashBps  uint64
	window    time.Duration
	onDispute DisputeHook
	onResolve ResolveHook
	clock     *mockable.Clock
	log       log.Logger

	mu     sync.Mutex
	cases  map[ids.ID]*Case
	events []SlashEvent
	nextID uint64
}

// NewEngine creates a slashing engine with no open cases.
func NewEngine(params Params) *Engine {
	clock := params.Clock
	if clock == nil {
		clock = &mockable.Clock{}
	}
	logger := params.Log
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Engine{
		registry:  params.Registry,
		slashBps:  params.SlashBasisPoints,
		window:    params.DisputeWindow,
		onDispute: params.OnDispute,
		onResolve: params.OnResolve,
		clock:     clock,
		log:       logger,
		cases:     make(map[ids.ID]*Case),
	}
}

// ReportEquivocation slashes a validator immediately on proof of two
// conflicting signed payloads for one transfer. The signatures are
// assumed verified by the caller.
func (e *Engine) ReportEquivocation(validatorID ids.NodeID, transferID ids.ID) (SlashEvent, error) {
	event, err := e.execute(validatorID, Equivocation)
	if err != nil {
		return SlashEvent{}, err
	}

	e.log.Warn("validator slashed for equivocation",
		log.Stringer("validatorID", validatorID),
		log.Stringer("transferID", transferID),
		log.Uint64("amountSlashed", event.AmountSlashed),
	)
	return event, nil
}

// Accuse opens a disputable case against a validator. The penalty is
// deferred until the dispute window passes; counter-evidence cancels
// it. If the accusation implicates a pending transfer the dispute hook
// is invoked so the transfer can be held.
func (e *Engine) Accuse(validatorID ids.NodeID, reason Reason, transferID ids.ID) (*Case, error) {
	if reason.Immediate() {
		return nil, fmt.Errorf("%s is not disputable", reason)
	}
	if _, err := e.registry.Get(validatorID); err != nil {
		return nil, err
	}

	e.mu.Lock()
	now := e.clock.Time()
	e.nextID++
	c := &Case{
		ID:          caseID(validatorID, transferID, e.nextID),
		ValidatorID: validatorID,
		Reason:      reason,
		TransferID:  transferID,
		OpenedAt:    now,
		Deadline:    now.Add(e.window),
		Status:      CasePending,
	}
	e.cases[c.ID] = c
	e.mu.Unlock()

	e.log.Info("slashing case opened",
		log.Stringer("caseID", c.ID),
		log.Stringer("validatorID", validatorID),
		log.String("reason", reason.String()),
		log.Time("deadline", c.Deadline),
	)

	if e.onDispute != nil && transferID != ids.Empty {
		e.onDispute(transferID, validatorID)
	}
	return c, nil
}

// Dispute cancels a pending case on counter-evidence. A transfer held
// for the case is released through the resolve hook.
func (e *Engine) Dispute(id ids.ID) error {
	e.mu.Lock()
	c, ok := e.cases[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCase, id)
	}
	if c.Status != CasePending {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCaseClosed, id)
	}
	c.Status = CaseCancelled
	transferID := c.TransferID
	e.mu.Unlock()

	e.log.Info("slashing case cancelled",
		log.Stringer("caseID", id),
		log.Stringer("validatorID", c.ValidatorID),
	)

	if e.onResolve != nil && transferID != ids.Empty {
		e.onResolve(transferID, false)
	}
	return nil
}

// Finalize executes a pending case whose dispute window has passed.
func (e *Engine) Finalize(id ids.ID) (SlashEvent, error) {
	e.mu.Lock()
	c, ok := e.cases[id]
	if !ok {
		e.mu.Unlock()
		return SlashEvent{}, fmt.Errorf("%w: %s", ErrUnknownCase, id)
	}
	if c.Status != CasePending {
		e.mu.Unlock()
		return SlashEvent{}, fmt.Errorf("%w: %s", ErrCaseClosed, id)
	}
	if e.clock.Time().Before(c.Deadline) {
		e.mu.Unlock()
		return SlashEvent{}, fmt.Errorf("%w: %s until %s", ErrWindowNotPassed, id, c.Deadline)
	}
	c.Status = CaseExecuted
	transferID := c.TransferID
	e.mu.Unlock()

	event, err := e.execute(c.ValidatorID, c.Reason)

	// The held transfer resumes whether or not the penalty landed; a
	// validator that already left the registry still closes the case.
	if e.onResolve != nil && transferID != ids.Empty {
		e.onResolve(transferID, true)
	}
	if err != nil {
		return SlashEvent{}, err
	}
	event.DisputeDeadline = c.Deadline
	return event, nil
}

// FinalizeDue executes every pending case whose window has passed and
// returns the resulting events. Cases whose validator has since left
// the registry are closed without a penalty.
func (e *Engine) FinalizeDue() []SlashEvent {
	e.mu.Lock()
	var due []ids.ID
	now := e.clock.Time()
	for id, c := range e.cases {
		if c.Status == CasePending && !now.Before(c.Deadline) {
			due = append(due, id)
		}
	}
	e.mu.Unlock()

	events := make([]SlashEvent, 0, len(due))
	for _, id := range due {
		event, err := e.Finalize(id)
		if err != nil {
			e.log.Debug("slashing case finalization skipped",
				log.Stringer("caseID", id),
				log.Err(err),
			)
			continue
		}
		events = append(events, event)
	}
	return events
}

// GetCase returns a copy of the case with the given ID.
func (e *Engine) GetCase(id ids.ID) (Case, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.cases[id]
	if !ok {
		return Case{}, fmt.Errorf("%w: %s", ErrUnknownCase, id)
	}
	return *c, nil
}

// Events returns a snapshot of executed slash events.
func (e *Engine) Events() []SlashEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]SlashEvent, len(e.events))
	copy(out, e.events)
	return out
}

func (e *Engine) execute(validatorID ids.NodeID, reason Reason) (SlashEvent, error) {
	slashed, remaining, err := e.registry.Slash(validatorID, e.slashBps)
	if err != nil {
		return SlashEvent{}, err
	}
	if err := e.registry.RecordMisbehavior(validatorID); err != nil {
		return SlashEvent{}, err
	}

	event := SlashEvent{
		ValidatorID:   validatorID,
		Reason:        reason,
		AmountSlashed: slashed,
		Timestamp:     e.clock.Time(),
	}

	e.mu.Lock()
	e.events = append(e.events, event)
	e.mu.Unlock()

	e.log.Info("slash executed",
		log.Stringer("validatorID", validatorID),
		log.String("reason", reason.String()),
		log.Uint64("amountSlashed", slashed),
		log.Uint64("remainingStake", remaining),
	)
	return event, nil
}

func caseID(validatorID ids.NodeID, transferID ids.ID, seq uint64) ids.ID {
	h := sha256.New()
	h.Write(validatorID.Bytes())
	h.Write(transferID[:])
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	h.Write(buf[:])
	return ids.ID(h.Sum(nil))
}
