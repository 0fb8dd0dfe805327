// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package validators tracks the economically staked validator set that
// attests to cross-ledger transfers.
package validators

import (
	"time"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
)

// Reputation bounds. Scores are clamped to this range everywhere.
const (
	MinReputationScore = 0
	MaxReputationScore = 100

	// InitialReputation is assigned on registration.
	InitialReputation = 70
)

// Validator is one staked member of the bridge validator set.
type Validator struct {
	NodeID ids.NodeID `json:"nodeId"`

	// PublicKey verifies this validator's attestation signatures
	PublicKey      *bls.PublicKey `json:"-"`
	PublicKeyBytes []byte         `json:"publicKey"`

	StakeAmount uint64 `json:"stakeAmount"`
	Reputation  uint8  `json:"reputation"`
	Active      bool   `json:"active"`

	LastActivityAt time.Time `json:"lastActivityAt"`
	RegisteredAt   time.Time `json:"registeredAt"`

	// ExitRequestedAt is zero unless the validator asked to leave; the
	// stake unlocks once the exit cooldown has elapsed.
	ExitRequestedAt time.Time `json:"exitRequestedAt,omitempty"`
}

// Exiting reports whether a voluntary exit is in progress.
func (v *Validator) Exiting() bool {
	return !v.ExitRequestedAt.IsZero()
}

func clampReputation(score int) uint8 {
	if score < MinReputationScore {
		return MinReputationScore
	}
	if score > MaxReputationScore {
		return MaxReputationScore
	}
	return uint8(score)
}
