// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package attestation implements validator attestations over confirmed
// lock events and their aggregation to an authorization threshold.
package attestation

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
)

var (
	// ErrInvalidSignature is returned when an attestation signature does
	// not verify against the validator's registered key.
	ErrInvalidSignature = errors.New("invalid attestation signature")

	// ErrWrongTransfer is returned when an attestation references a
	// different transfer than the one it is checked against.
	ErrWrongTransfer = errors.New("attestation references wrong transfer")
)

// Payload is the canonical content a validator attests to: the claim
// that a specific lock event occurred on the source ledger.
type Payload struct {
	TransferID  ids.ID `json:"transferId"`
	SourceChain ids.ID `json:"sourceChain"`
	DestChain   ids.ID `json:"destChain"`
	Recipient   []byte `json:"recipient"`
	Amount      uint64 `json:"amount"`
	Nonce       uint64 `json:"nonce"`
}

// Digest returns the canonical signing digest of the payload. All
// validators must produce the same digest for the same lock event.
func (p *Payload) Digest() ids.ID {
	h := sha256.New()

	h.Write(p.TransferID[:])
	h.Write(p.SourceChain[:])
	h.Write(p.DestChain[:])
	h.Write(p.Recipient)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], p.Amount)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], p.Nonce)
	h.Write(buf[:])

	return ids.ID(h.Sum(nil))
}

// Attestation is a validator's signed claim that the payload's lock
// event occurred. Immutable once recorded.
type Attestation struct {
	ValidatorID ids.NodeID `json:"validatorId"`
	TransferID  ids.ID     `json:"transferId"`

	// Payload is the full claim the validator signed. Carrying it lets
	// verifiers recompute the signed digest and check which transfer the
	// signature is actually bound to, rather than trusting the outer
	// TransferID field.
	Payload Payload `json:"payload"`

	// Digest is the payload digest the validator actually signed. It is
	// compared against the canonical digest to detect equivocation.
	Digest    ids.ID    `json:"digest"`
	Signature []byte    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
}

// Sign produces an attestation over payload with the validator's key.
func Sign(nodeID ids.NodeID, signer bls.Signer, payload *Payload, now time.Time) (*Attestation, error) {
	digest := payload.Digest()
	sig, err := signer.Sign(digest[:])
	if err != nil {
		return nil, err
	}
	return &Attestation{
		ValidatorID: nodeID,
		TransferID:  payload.TransferID,
		Payload:     *payload,
		Digest:      digest,
		Signature:   bls.SignatureToBytes(sig),
		Timestamp:   now,
	}, nil
}

// Verify checks the attestation against the given key. The signed
// digest is recomputed from the carried payload, so a signature only
// verifies for the claim it was actually produced over, and the
// payload must bind to the transfer the attestation is submitted for.
func (a *Attestation) Verify(publicKey *bls.PublicKey) error {
	digest := a.Payload.Digest()
	if digest != a.Digest {
		return ErrInvalidSignature
	}
	if a.Payload.TransferID != a.TransferID {
		return fmt.Errorf("%w: signed %s, submitted for %s",
			ErrWrongTransfer, a.Payload.TransferID, a.TransferID)
	}
	sig, err := bls.SignatureFromBytes(a.Signature)
	if err != nil {
		return errors.Join(ErrInvalidSignature, err)
	}
	if !bls.Verify(publicKey, sig, digest[:]) {
		return ErrInvalidSignature
	}
	return nil
}
