// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validators

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	safemath "github.com/luxfi/math"

	"github.com/luxfi/bridge/utils/timer/mockable"
)

var (
	ErrInsufficientStake    = errors.New("stake below minimum")
	ErrAlreadyRegistered    = errors.New("validator already registered")
	ErrValidatorNotFound    = errors.New("validator not found")
	ErrBelowActiveSetFloor  = errors.New("active set would shrink below minimum")
	ErrExitCooldownPending  = errors.New("exit cooldown has not elapsed")
	ErrExitAlreadyRequested = errors.New("exit already requested")
)

// Registry tracks stake, reputation and active-set membership for the
// bridge validator set. Mutations per validator are serialized under the
// write lock; eligibility reads take the read lock only.
type Registry struct {
	minStake      uint64
	minReputation uint8

	// minActive is the floor below which voluntary exits and governance
	// removals are refused, so the set cannot silently shrink to an
	// insecure size
	minActive    int
	exitCooldown time.Duration

	scorer Scorer
	clock  *mockable.Clock
	log    log.Logger

	mu         sync.RWMutex
	validators map[ids.NodeID]*Validator
}

// RegistryParams configures a Registry.
type RegistryParams struct {
	MinStake            uint64
	MinReputation       uint8
	MinActiveValidators int
	ExitCooldown        time.Duration

	// Scorer defaults to NewDefaultScorer when nil
	Scorer Scorer
	Clock  *mockable.Clock
	Log    log.Logger
}

// NewRegistry creates an empty validator registry.
func NewRegistry(params RegistryParams) *Registry {
	scorer := params.Scorer
	if scorer == nil {
		scorer = NewDefaultScorer()
	}
	clock := params.Clock
	if clock == nil {
		clock = &mockable.Clock{}
	}
	logger := params.Log
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Registry{
		minStake:      params.MinStake,
		minReputation: params.MinReputation,
		minActive:     params.MinActiveValidators,
		exitCooldown:  params.ExitCooldown,
		scorer:        scorer,
		clock:         clock,
		log:           logger,
		validators:    make(map[ids.NodeID]*Validator),
	}
}

// Register adds a validator with the given stake and attestation key.
// Fails with ErrInsufficientStake when stake is below the minimum.
func (r *Registry) Register(nodeID ids.NodeID, stake uint64, publicKey *bls.PublicKey) error {
	if stake < r.minStake {
		return fmt.Errorf("%w: %d < %d", ErrInsufficientStake, stake, r.minStake)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.validators[nodeID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, nodeID)
	}

	now := r.clock.Time()
	r.validators[nodeID] = &Validator{
		NodeID:         nodeID,
		PublicKey:      publicKey,
		PublicKeyBytes: bls.PublicKeyToCompressedBytes(publicKey),
		StakeAmount:    stake,
		Reputation:     InitialReputation,
		Active:         true,
		LastActivityAt: now,
		RegisteredAt:   now,
	}

	r.log.Info("validator registered",
		log.Stringer("nodeID", nodeID),
		log.Uint64("stake", stake),
	)
	return nil
}

// Slash reduces a validator's stake by stake*bps/10000, flooring at zero,
// and returns the amount actually removed together with the remainder.
func (r *Registry) Slash(nodeID ids.NodeID, bps uint64) (slashed, remaining uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	vdr, ok := r.validators[nodeID]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrValidatorNotFound, nodeID)
	}

	slashed = slashAmount(vdr.StakeAmount, bps)
	vdr.StakeAmount -= slashed

	r.log.Warn("validator slashed",
		log.Stringer("nodeID", nodeID),
		log.Uint64("bps", bps),
		log.Uint64("slashed", slashed),
		log.Uint64("remaining", vdr.StakeAmount),
	)
	return slashed, vdr.StakeAmount, nil
}

// slashAmount computes stake*bps/10000 without overflow; bps above 10000
// seizes the full stake.
func slashAmount(stake, bps uint64) uint64 {
	if bps >= 10_000 {
		return stake
	}
	product, err := safemath.Mul64(stake, bps)
	if err != nil {
		// stake*bps overflows uint64; divide first at the cost of
		// rounding down by at most 10000 units
		return (stake / 10_000) * bps
	}
	return product / 10_000
}

// UpdateReputation applies delta to a validator's reputation, clamped to
// [0,100].
func (r *Registry) UpdateReputation(nodeID ids.NodeID, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateReputationLocked(nodeID, delta)
}

func (r *Registry) updateReputationLocked(nodeID ids.NodeID, delta int) error {
	vdr, ok := r.validators[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrValidatorNotFound, nodeID)
	}
	vdr.Reputation = clampReputation(int(vdr.Reputation) + delta)
	return nil
}

// RecordCorrectAttestation credits a timely valid attestation: reputation
// rises per the scorer and the activity timestamp resets.
func (r *Registry) RecordCorrectAttestation(nodeID ids.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	vdr, ok := r.validators[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrValidatorNotFound, nodeID)
	}
	vdr.Reputation = clampReputation(int(vdr.Reputation) + r.scorer.CorrectAttestation())
	vdr.LastActivityAt = r.clock.Time()
	return nil
}

// RecordMissedWindow penalizes a validator that failed to attest inside
// an attestation window.
func (r *Registry) RecordMissedWindow(nodeID ids.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateReputationLocked(nodeID, r.scorer.MissedWindow())
}

// RecordMisbehavior applies the scorer's misbehavior penalty.
func (r *Registry) RecordMisbehavior(nodeID ids.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateReputationLocked(nodeID, r.scorer.Misbehavior())
}

// ApplyDecay walks the set and decays reputation for idle validators.
// Intended to be driven periodically by the engine.
func (r *Registry) ApplyDecay() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Time()
	for _, vdr := range r.validators {
		if delta := r.scorer.Decay(now, vdr.LastActivityAt); delta != 0 {
			vdr.Reputation = clampReputation(int(vdr.Reputation) + delta)
			vdr.LastActivityAt = now
		}
	}
}

// IsEligible reports whether a validator currently counts toward
// attestation thresholds. Evaluated at attestation-acceptance time, not
// signing time, so stale-eligibility races resolve against the signer.
func (r *Registry) IsEligible(nodeID ids.NodeID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vdr, ok := r.validators[nodeID]
	return ok &&
		vdr.Active &&
		!vdr.Exiting() &&
		vdr.StakeAmount >= r.minStake &&
		vdr.Reputation >= r.minReputation
}

// PublicKey returns the attestation key registered for a validator.
func (r *Registry) PublicKey(nodeID ids.NodeID) (*bls.PublicKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vdr, ok := r.validators[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrValidatorNotFound, nodeID)
	}
	return vdr.PublicKey, nil
}

// Get returns a copy of the validator record.
func (r *Registry) Get(nodeID ids.NodeID) (Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vdr, ok := r.validators[nodeID]
	if !ok {
		return Validator{}, fmt.Errorf("%w: %s", ErrValidatorNotFound, nodeID)
	}
	return *vdr, nil
}

// ActiveCount returns the number of active, non-exiting validators.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeCountLocked()
}

func (r *Registry) activeCountLocked() int {
	count := 0
	for _, vdr := range r.validators {
		if vdr.Active && !vdr.Exiting() {
			count++
		}
	}
	return count
}

// BeginExit starts a voluntary exit. The validator stops counting toward
// thresholds immediately; stake unlocks via CompleteExit after the
// cooldown. Refused when it would shrink the active set below the floor.
func (r *Registry) BeginExit(nodeID ids.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	vdr, ok := r.validators[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrValidatorNotFound, nodeID)
	}
	if vdr.Exiting() {
		return ErrExitAlreadyRequested
	}
	if vdr.Active && r.activeCountLocked()-1 < r.minActive {
		return fmt.Errorf("%w: %d active, floor %d",
			ErrBelowActiveSetFloor, r.activeCountLocked(), r.minActive)
	}

	vdr.ExitRequestedAt = r.clock.Time()
	r.log.Info("validator exit requested", log.Stringer("nodeID", nodeID))
	return nil
}

// CompleteExit removes an exiting validator once the cooldown has elapsed
// and returns the stake to release.
func (r *Registry) CompleteExit(nodeID ids.NodeID) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	vdr, ok := r.validators[nodeID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrValidatorNotFound, nodeID)
	}
	if !vdr.Exiting() {
		return 0, fmt.Errorf("%w: no exit requested", ErrExitCooldownPending)
	}
	if r.clock.Time().Before(vdr.ExitRequestedAt.Add(r.exitCooldown)) {
		return 0, ErrExitCooldownPending
	}

	stake := vdr.StakeAmount
	delete(r.validators, nodeID)

	r.log.Info("validator exit completed",
		log.Stringer("nodeID", nodeID),
		log.Uint64("releasedStake", stake),
	)
	return stake, nil
}

// Remove forcibly drops a validator (governance removal). Refused when it
// would shrink the active set below the floor.
func (r *Registry) Remove(nodeID ids.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	vdr, ok := r.validators[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrValidatorNotFound, nodeID)
	}
	if vdr.Active && !vdr.Exiting() && r.activeCountLocked()-1 < r.minActive {
		return fmt.Errorf("%w: %d active, floor %d",
			ErrBelowActiveSetFloor, r.activeCountLocked(), r.minActive)
	}

	delete(r.validators, nodeID)
	r.log.Info("validator removed", log.Stringer("nodeID", nodeID))
	return nil
}

// Len returns the total number of tracked validators.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.validators)
}
