// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transfer owns the replay-safe lifecycle of cross-ledger
// transfers, from first lock-event sighting to a terminal state.
package transfer

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/luxfi/ids"

	"github.com/luxfi/bridge/attestation"
)

// Status is the lifecycle state of a transfer.
type Status uint8

const (
	// StatusInitiated: lock event sighted, confirmations pending.
	StatusInitiated Status = iota + 1
	// StatusConfirmed: source-chain confirmation depth reached.
	StatusConfirmed
	// StatusAttesting: collecting validator attestations.
	StatusAttesting
	// StatusFinalized: threshold reached, mint submitted.
	StatusFinalized
	// StatusCompleted: destination chain confirmed the mint. Terminal.
	StatusCompleted
	// StatusExpired: validation timeout fired below threshold.
	StatusExpired
	// StatusRefunded: source ledger refund path taken. Terminal.
	StatusRefunded
	// StatusDisputed: a slash implicated a counted attestation while the
	// transfer was still pending; finalization is held.
	StatusDisputed
)

func (s Status) String() string {
	switch s {
	case StatusInitiated:
		return "initiated"
	case StatusConfirmed:
		return "confirmed"
	case StatusAttesting:
		return "attesting"
	case StatusFinalized:
		return "finalized"
	case StatusCompleted:
		return "completed"
	case StatusExpired:
		return "expired"
	case StatusRefunded:
		return "refunded"
	case StatusDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRefunded
}

// validTransitions encodes the lifecycle graph. Disputed may resume to
// Attesting (attestation stripped) or Finalized (evidence rejected after
// the mint was already submitted).
var validTransitions = map[Status][]Status{
	StatusInitiated: {StatusConfirmed, StatusExpired},
	StatusConfirmed: {StatusAttesting, StatusExpired},
	StatusAttesting: {StatusFinalized, StatusExpired, StatusDisputed},
	StatusFinalized: {StatusCompleted, StatusDisputed},
	StatusExpired:   {StatusRefunded},
	StatusDisputed:  {StatusAttesting, StatusFinalized, StatusExpired},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transfer is one cross-ledger value movement.
type Transfer struct {
	ID ids.ID `json:"id"`

	SourceChain ids.ID `json:"sourceChain"`
	DestChain   ids.ID `json:"destChain"`
	Sender      []byte `json:"sender"`
	Recipient   []byte `json:"recipient"`
	Amount      uint64 `json:"amount"`
	Nonce       uint64 `json:"nonce"`

	Status       Status                     `json:"status"`
	Attestations []*attestation.Attestation `json:"attestations"`

	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`

	// MintTxID is set once the mint is submitted on the destination chain
	MintTxID ids.ID `json:"mintTxId,omitempty"`

	// FeeAmount is the bridge fee withheld from the mint
	FeeAmount uint64 `json:"feeAmount,omitempty"`

	// DisputedFrom remembers the status a transfer held before it was
	// parked in Disputed, so case resolution can restore it
	DisputedFrom Status `json:"disputedFrom,omitempty"`

	// RefundAvailableAt opens the source-ledger refund path after expiry
	// plus the grace period
	RefundAvailableAt time.Time `json:"refundAvailableAt,omitempty"`
}

// DeriveID computes the transfer identifier from the source chain and
// the lock event nonce. The same lock always maps to the same ID, which
// is what makes replay protection possible.
func DeriveID(sourceChain ids.ID, nonce uint64) ids.ID {
	h := sha256.New()
	h.Write(sourceChain[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	h.Write(buf[:])

	return ids.ID(h.Sum(nil))
}

// Payload returns the canonical attestation payload for this transfer.
func (t *Transfer) Payload() attestation.Payload {
	return attestation.Payload{
		TransferID:  t.ID,
		SourceChain: t.SourceChain,
		DestChain:   t.DestChain,
		Recipient:   t.Recipient,
		Amount:      t.Amount,
		Nonce:       t.Nonce,
	}
}
