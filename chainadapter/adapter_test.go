// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chainadapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/bridge/attestation"
)

func TestLockEventsHeldUntilConfirmed(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sim := NewSimulated(ids.GenerateTestID(), 3)
	events, err := sim.SubscribeLocks(ctx)
	require.NoError(err)

	destChain := ids.GenerateTestID()
	lockTx := sim.Lock(destChain, []byte{0x01}, []byte{0x02}, 500, 1)

	// Not yet deep enough
	sim.Mine(2)
	select {
	case ev := <-events:
		t.Fatalf("event delivered at depth 2: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}

	sim.Mine(1)
	select {
	case ev := <-events:
		require.Equal(lockTx, ev.LockTxID)
		require.Equal(destChain, ev.DestChain)
		require.Equal(uint64(500), ev.Amount)
		require.Equal(uint64(1), ev.Nonce)
		require.GreaterOrEqual(ev.Confirmations, uint64(3))
	case <-time.After(time.Second):
		t.Fatal("confirmed lock event never delivered")
	}
}

func TestSubmitMintIdempotent(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	sim := NewSimulated(ids.GenerateTestID(), 1)
	transferID := ids.GenerateTestID()
	bundle := &attestation.ProofBundle{TransferID: transferID}

	first, err := sim.SubmitMint(ctx, transferID, bundle, 489)
	require.NoError(err)

	second, err := sim.SubmitMint(ctx, transferID, bundle, 489)
	require.NoError(err)
	require.Equal(first, second)

	minted, ok := sim.MintedAmount(transferID)
	require.True(ok)
	require.Equal(uint64(489), minted)
}

func TestConfirmationsUnknownTx(t *testing.T) {
	require := require.New(t)

	sim := NewSimulated(ids.GenerateTestID(), 1)
	_, err := sim.Confirmations(context.Background(), ids.GenerateTestID())
	require.ErrorIs(err, ErrUnknownTx)
}

func TestSubmitterRetriesTransientFailures(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	sim := NewSimulated(ids.GenerateTestID(), 1)
	submitter := NewSubmitter(sim, 5, time.Millisecond, nil)

	sim.FailNext(3)
	transferID := ids.GenerateTestID()
	txID, err := submitter.SubmitMint(ctx, transferID, &attestation.ProofBundle{TransferID: transferID}, 500)
	require.NoError(err)

	recorded, ok := sim.MintTx(transferID)
	require.True(ok)
	require.Equal(recorded, txID)
}

func TestSubmitterGivesUpAfterBudget(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	sim := NewSimulated(ids.GenerateTestID(), 1)
	submitter := NewSubmitter(sim, 3, time.Millisecond, nil)

	sim.FailNext(10)
	transferID := ids.GenerateTestID()
	_, err := submitter.SubmitMint(ctx, transferID, &attestation.ProofBundle{TransferID: transferID}, 500)
	require.ErrorIs(err, ErrSubmitFailed)

	_, ok := sim.MintTx(transferID)
	require.False(ok)
}

func TestSubmitterHonorsContextCancellation(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sim := NewSimulated(ids.GenerateTestID(), 1)
	submitter := NewSubmitter(sim, 3, time.Minute, nil)

	transferID := ids.GenerateTestID()
	_, err := submitter.SubmitMint(ctx, transferID, &attestation.ProofBundle{TransferID: transferID}, 500)
	require.ErrorIs(err, context.Canceled)
}

func TestRefundIdempotent(t *testing.T) {
	require := require.New(t)

	ctx := context.Background()
	sim := NewSimulated(ids.GenerateTestID(), 1)
	transferID := ids.GenerateTestID()

	first, err := sim.SubmitRefund(ctx, transferID, []byte{0x01}, 500)
	require.NoError(err)
	second, err := sim.SubmitRefund(ctx, transferID, []byte{0x01}, 500)
	require.NoError(err)
	require.Equal(first, second)
}
