// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package attestation

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/bridge/utils/timer/mockable"
)

var (
	ErrUnknownTransfer     = errors.New("transfer not tracked")
	ErrWindowExpired       = errors.New("attestation window expired")
	ErrIneligibleValidator = errors.New("validator not eligible")
	ErrConflictingPayload  = errors.New("conflicting payload for transfer")
)

// Eligibility answers whether a validator currently counts toward
// thresholds and resolves its attestation key. Checked at acceptance
// time, never at signing time.
type Eligibility interface {
	IsEligible(nodeID ids.NodeID) bool
	PublicKey(nodeID ids.NodeID) (*bls.PublicKey, error)
}

// EquivocationFunc receives cryptographic proof that a validator signed
// two conflicting attestations for the same transfer.
type EquivocationFunc func(nodeID ids.NodeID, transferID ids.ID, first, second *Attestation)

// Outcome describes the effect of adding one attestation.
type Outcome uint8

const (
	// OutcomeAccepted means the attestation was counted but the
	// threshold has not been reached yet.
	OutcomeAccepted Outcome = iota + 1

	// OutcomeDuplicate means the validator had already attested; the
	// counted set is unchanged.
	OutcomeDuplicate

	// OutcomeThreshold means this attestation completed the threshold
	// and a proof bundle is available.
	OutcomeThreshold
)

// ProofBundle is the deterministic set of attestations submitted to
// authorize a mint: the first threshold-many valid unique attestations,
// ordered by validator ID.
type ProofBundle struct {
	TransferID   ids.ID         `json:"transferId"`
	Digest       ids.ID         `json:"digest"`
	Attestations []*Attestation `json:"attestations"`
}

// tracker holds aggregation state for a single transfer. Each tracker
// has its own lock so unrelated transfers never contend.
type tracker struct {
	mu sync.Mutex

	payload   Payload
	digest    ids.ID
	threshold int
	deadline  time.Time

	byValidator map[ids.NodeID]*Attestation
	arrival     []*Attestation

	bundle *ProofBundle
	closed bool
}

// Aggregator collects, verifies and deduplicates validator attestations
// per transfer until the chain pair's threshold is met.
type Aggregator struct {
	eligibility    Eligibility
	onEquivocation EquivocationFunc
	clock          *mockable.Clock
	log            log.Logger

	mu       sync.RWMutex
	trackers map[ids.ID]*tracker
}

// AggregatorParams configures an Aggregator.
type AggregatorParams struct {
	Eligibility    Eligibility
	OnEquivocation EquivocationFunc
	Clock          *mockable.Clock
	Log            log.Logger
}

// NewAggregator creates an aggregator with no tracked transfers.
func NewAggregator(params AggregatorParams) *Aggregator {
	clock := params.Clock
	if clock == nil {
		clock = &mockable.Clock{}
	}
	logger := params.Log
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Aggregator{
		eligibility:    params.Eligibility,
		onEquivocation: params.OnEquivocation,
		clock:          clock,
		log:            logger,
		trackers:       make(map[ids.ID]*tracker),
	}
}

// Track starts collecting attestations for a transfer. Attestations
// arriving after deadline are rejected with ErrWindowExpired.
func (a *Aggregator) Track(payload Payload, threshold int, deadline time.Time) error {
	if threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %d", threshold)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.trackers[payload.TransferID]; ok {
		return fmt.Errorf("transfer %s already tracked", payload.TransferID)
	}
	a.trackers[payload.TransferID] = &tracker{
		payload:     payload,
		digest:      payload.Digest(),
		threshold:   threshold,
		deadline:    deadline,
		byValidator: make(map[ids.NodeID]*Attestation),
	}

	a.log.Debug("tracking transfer for attestation",
		log.Stringer("transferID", payload.TransferID),
		log.Int("threshold", threshold),
	)
	return nil
}

// Add verifies and records one attestation. Signature validity and
// eligibility are checked under the transfer's own lock; duplicates by
// validator are reported as OutcomeDuplicate without growing the set.
func (a *Aggregator) Add(att *Attestation) (Outcome, *ProofBundle, error) {
	a.mu.RLock()
	tr, ok := a.trackers[att.TransferID]
	a.mu.RUnlock()
	if !ok {
		return 0, nil, fmt.Errorf("%w: %s", ErrUnknownTransfer, att.TransferID)
	}

	outcome, bundle, prev, err := a.addToTracker(tr, att)

	// Equivocation needs two signatures from the same validator over
	// conflicting payloads for this transfer. A conflicting attestation
	// without a counted earlier one is dropped as a plain validation
	// failure. The callback runs outside the tracker lock so it may
	// call back into the aggregator.
	if errors.Is(err, ErrConflictingPayload) && prev != nil && a.onEquivocation != nil {
		a.onEquivocation(att.ValidatorID, att.TransferID, prev, att)
	}
	return outcome, bundle, err
}

func (a *Aggregator) addToTracker(tr *tracker, att *Attestation) (Outcome, *ProofBundle, *Attestation, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.closed || a.clock.Time().After(tr.deadline) {
		return 0, nil, nil, fmt.Errorf("%w: %s", ErrWindowExpired, att.TransferID)
	}

	if !a.eligibility.IsEligible(att.ValidatorID) {
		return 0, nil, nil, fmt.Errorf("%w: %s", ErrIneligibleValidator, att.ValidatorID)
	}

	publicKey, err := a.eligibility.PublicKey(att.ValidatorID)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%w: %s", ErrIneligibleValidator, att.ValidatorID)
	}
	if err := att.Verify(publicKey); err != nil {
		return 0, nil, nil, err
	}

	if att.Digest != tr.digest {
		// Valid signature over a different payload bound to the same
		// transfer. Paired with an earlier counted attestation it is
		// equivocation evidence; on its own it is merely rejected.
		prev := tr.byValidator[att.ValidatorID]
		return 0, nil, prev, fmt.Errorf("%w: validator %s", ErrConflictingPayload, att.ValidatorID)
	}

	if _, ok := tr.byValidator[att.ValidatorID]; ok {
		a.log.Debug("duplicate attestation ignored",
			log.Stringer("transferID", att.TransferID),
			log.Stringer("validatorID", att.ValidatorID),
		)
		return OutcomeDuplicate, nil, nil, nil
	}

	tr.byValidator[att.ValidatorID] = att
	tr.arrival = append(tr.arrival, att)

	a.log.Debug("attestation accepted",
		log.Stringer("transferID", att.TransferID),
		log.Stringer("validatorID", att.ValidatorID),
		log.Int("count", len(tr.arrival)),
		log.Int("threshold", tr.threshold),
	)

	if len(tr.arrival) < tr.threshold {
		return OutcomeAccepted, nil, nil, nil
	}

	tr.bundle = buildBundle(tr)
	tr.closed = true
	return OutcomeThreshold, tr.bundle, nil, nil
}

// buildBundle assembles the deterministic proof bundle from the first
// threshold-many attestations in arrival order, sorted by validator ID.
func buildBundle(tr *tracker) *ProofBundle {
	selected := make([]*Attestation, tr.threshold)
	copy(selected, tr.arrival[:tr.threshold])
	slices.SortFunc(selected, func(a, b *Attestation) int {
		return bytes.Compare(a.ValidatorID.Bytes(), b.ValidatorID.Bytes())
	})
	return &ProofBundle{
		TransferID:   tr.payload.TransferID,
		Digest:       tr.digest,
		Attestations: selected,
	}
}

// Count returns the number of unique attestations collected so far.
func (a *Aggregator) Count(transferID ids.ID) int {
	a.mu.RLock()
	tr, ok := a.trackers[transferID]
	a.mu.RUnlock()
	if !ok {
		return 0
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.arrival)
}

// Attestors returns the validators whose attestations were counted for a
// transfer. Used when a slash implicates a pending transfer.
func (a *Aggregator) Attestors(transferID ids.ID) []ids.NodeID {
	a.mu.RLock()
	tr, ok := a.trackers[transferID]
	a.mu.RUnlock()
	if !ok {
		return nil
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	nodeIDs := make([]ids.NodeID, 0, len(tr.byValidator))
	for nodeID := range tr.byValidator {
		nodeIDs = append(nodeIDs, nodeID)
	}
	return nodeIDs
}

// Expired reports whether a tracked transfer's window has passed without
// reaching the threshold.
func (a *Aggregator) Expired(transferID ids.ID) bool {
	a.mu.RLock()
	tr, ok := a.trackers[transferID]
	a.mu.RUnlock()
	if !ok {
		return false
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	return !tr.closed && a.clock.Time().After(tr.deadline)
}

// Close stops tracking a transfer and releases its state. Returns the
// number of attestations that had been collected.
func (a *Aggregator) Close(transferID ids.ID) int {
	a.mu.Lock()
	tr, ok := a.trackers[transferID]
	delete(a.trackers, transferID)
	a.mu.Unlock()
	if !ok {
		return 0
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.closed = true
	return len(tr.arrival)
}

// StripAttestor removes a validator's attestation from a still-open
// tracker, reopening the window below threshold. Used when a dispute
// upholds misbehavior by one of the attestors.
func (a *Aggregator) StripAttestor(transferID ids.ID, nodeID ids.NodeID) bool {
	a.mu.RLock()
	tr, ok := a.trackers[transferID]
	a.mu.RUnlock()
	if !ok {
		return false
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, ok := tr.byValidator[nodeID]; !ok {
		return false
	}
	delete(tr.byValidator, nodeID)
	tr.arrival = slices.DeleteFunc(tr.arrival, func(att *Attestation) bool {
		return att.ValidatorID == nodeID
	})
	tr.bundle = nil
	tr.closed = false
	return true
}
