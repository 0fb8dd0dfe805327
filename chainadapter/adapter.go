// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chainadapter abstracts the ledgers the bridge connects.
// Each adapter watches one chain for lock events and submits mint and
// refund transactions against it.
package chainadapter

import (
	"context"
	"errors"

	"github.com/luxfi/ids"

	"github.com/luxfi/bridge/attestation"
)

var (
	ErrUnknownTx       = errors.New("unknown transaction")
	ErrSubmitFailed    = errors.New("transaction submission failed")
	ErrAlreadyMinted   = errors.New("transfer already minted")
	ErrAdapterShutdown = errors.New("adapter shut down")
)

// LockEvent reports a deposit observed on a source chain. The deposit
// names the chain it bridges to; the engine validates that choice
// against its configuration. Adapters forward an event only once it
// has reached the confirmation depth the chain is configured with.
type LockEvent struct {
	SourceChain   ids.ID
	DestChain     ids.ID
	Sender        []byte
	Recipient     []byte
	Amount        uint64
	Nonce         uint64
	LockTxID      ids.ID
	Confirmations uint64
}

// Adapter is the per-ledger client used by the bridge engine.
type Adapter interface {
	// ChainID identifies the ledger this adapter serves.
	ChainID() ids.ID

	// SubscribeLocks returns a channel of confirmed lock events. The
	// channel is closed when ctx is cancelled or the adapter shuts
	// down.
	SubscribeLocks(ctx context.Context) (<-chan LockEvent, error)

	// SubmitMint submits a mint of amount tokens carrying the proof
	// bundle. The amount is net of the bridge fee. Submission is
	// idempotent: resubmitting a transfer that already minted returns
	// the original transaction ID and no error.
	SubmitMint(ctx context.Context, transferID ids.ID, bundle *attestation.ProofBundle, amount uint64) (ids.ID, error)

	// Confirmations reports the confirmation depth of a submitted
	// transaction, ErrUnknownTx if the chain has not seen it.
	Confirmations(ctx context.Context, txID ids.ID) (uint64, error)

	// SubmitRefund releases locked funds back to the sender after a
	// transfer expired. Idempotent like SubmitMint.
	SubmitRefund(ctx context.Context, transferID ids.ID, recipient []byte, amount uint64) (ids.ID, error)
}
