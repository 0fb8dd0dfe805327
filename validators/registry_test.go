// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/crypto/bls/signer/localsigner"
	"github.com/luxfi/ids"

	"github.com/luxfi/bridge/utils/timer/mockable"
)

const testMinStake = 10_000

func newTestRegistry(t *testing.T) (*Registry, *mockable.Clock) {
	t.Helper()

	clock := &mockable.Clock{}
	clock.Set(time.Unix(1_700_000_000, 0))

	return NewRegistry(RegistryParams{
		MinStake:            testMinStake,
		MinReputation:       50,
		MinActiveValidators: 1,
		ExitCooldown:        7 * 24 * time.Hour,
		Clock:               clock,
	}), clock
}

func newTestKey(t *testing.T) *bls.PublicKey {
	t.Helper()

	sk, err := localsigner.New()
	require.NoError(t, err)
	return sk.PublicKey()
}

func TestRegisterMinimumStake(t *testing.T) {
	require := require.New(t)

	reg, _ := newTestRegistry(t)
	pk := newTestKey(t)

	err := reg.Register(ids.GenerateTestNodeID(), testMinStake-1, pk)
	require.ErrorIs(err, ErrInsufficientStake)

	nodeID := ids.GenerateTestNodeID()
	require.NoError(reg.Register(nodeID, testMinStake, pk))
	require.True(reg.IsEligible(nodeID))

	err = reg.Register(nodeID, testMinStake, pk)
	require.ErrorIs(err, ErrAlreadyRegistered)
}

func TestSlashExactArithmetic(t *testing.T) {
	tests := []struct {
		name        string
		stake       uint64
		bps         uint64
		wantSlashed uint64
	}{
		{name: "ten percent", stake: 10_000, bps: 1000, wantSlashed: 1000},
		{name: "rounds down", stake: 19_999, bps: 1000, wantSlashed: 1999},
		{name: "one basis point", stake: 10_000, bps: 1, wantSlashed: 1},
		{name: "full slash", stake: 10_000, bps: 10_000, wantSlashed: 10_000},
		{name: "over full floors at zero stake", stake: 10_000, bps: 20_000, wantSlashed: 10_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			reg, _ := newTestRegistry(t)
			nodeID := ids.GenerateTestNodeID()
			require.NoError(reg.Register(nodeID, tt.stake, newTestKey(t)))

			slashed, remaining, err := reg.Slash(nodeID, tt.bps)
			require.NoError(err)
			require.Equal(tt.wantSlashed, slashed)
			require.Equal(tt.stake-tt.wantSlashed, remaining)
		})
	}
}

func TestSlashBelowMinStakeLosesEligibility(t *testing.T) {
	require := require.New(t)

	reg, _ := newTestRegistry(t)
	nodeID := ids.GenerateTestNodeID()
	require.NoError(reg.Register(nodeID, testMinStake, newTestKey(t)))
	require.True(reg.IsEligible(nodeID))

	// 10% off the minimum stake drops the validator under the floor
	_, remaining, err := reg.Slash(nodeID, 1000)
	require.NoError(err)
	require.Less(remaining, uint64(testMinStake))
	require.False(reg.IsEligible(nodeID))
}

func TestSlashUnknownValidator(t *testing.T) {
	require := require.New(t)

	reg, _ := newTestRegistry(t)
	_, _, err := reg.Slash(ids.GenerateTestNodeID(), 1000)
	require.ErrorIs(err, ErrValidatorNotFound)
}

func TestReputationClamping(t *testing.T) {
	require := require.New(t)

	reg, _ := newTestRegistry(t)
	nodeID := ids.GenerateTestNodeID()
	require.NoError(reg.Register(nodeID, testMinStake, newTestKey(t)))

	require.NoError(reg.UpdateReputation(nodeID, 1000))
	vdr, err := reg.Get(nodeID)
	require.NoError(err)
	require.Equal(uint8(MaxReputationScore), vdr.Reputation)

	require.NoError(reg.UpdateReputation(nodeID, -1000))
	vdr, err = reg.Get(nodeID)
	require.NoError(err)
	require.Equal(uint8(MinReputationScore), vdr.Reputation)
}

func TestReputationEligibilityThreshold(t *testing.T) {
	require := require.New(t)

	reg, _ := newTestRegistry(t)
	nodeID := ids.GenerateTestNodeID()
	require.NoError(reg.Register(nodeID, testMinStake, newTestKey(t)))

	// Initial reputation (70) is above the 50 floor
	require.True(reg.IsEligible(nodeID))

	require.NoError(reg.UpdateReputation(nodeID, -21)) // 70 -> 49
	require.False(reg.IsEligible(nodeID))

	require.NoError(reg.UpdateReputation(nodeID, 1)) // 49 -> 50
	require.True(reg.IsEligible(nodeID))
}

func TestMisbehaviorCostsEligibility(t *testing.T) {
	require := require.New(t)

	reg, _ := newTestRegistry(t)
	nodeID := ids.GenerateTestNodeID()
	require.NoError(reg.Register(nodeID, testMinStake, newTestKey(t)))

	require.NoError(reg.RecordMisbehavior(nodeID)) // 70 - 40 = 30
	vdr, err := reg.Get(nodeID)
	require.NoError(err)
	require.Equal(uint8(30), vdr.Reputation)
	require.False(reg.IsEligible(nodeID))
}

func TestInactivityDecay(t *testing.T) {
	require := require.New(t)

	reg, clock := newTestRegistry(t)
	nodeID := ids.GenerateTestNodeID()
	require.NoError(reg.Register(nodeID, testMinStake, newTestKey(t)))

	clock.Advance(3 * 24 * time.Hour)
	reg.ApplyDecay()

	vdr, err := reg.Get(nodeID)
	require.NoError(err)
	require.Equal(uint8(InitialReputation-3), vdr.Reputation)

	// Fresh activity resets the decay baseline
	require.NoError(reg.RecordCorrectAttestation(nodeID))
	clock.Advance(12 * time.Hour)
	reg.ApplyDecay()

	after, err := reg.Get(nodeID)
	require.NoError(err)
	require.Equal(uint8(InitialReputation-3+2), after.Reputation)
}

func TestExitCooldownAndFloor(t *testing.T) {
	require := require.New(t)

	clock := &mockable.Clock{}
	clock.Set(time.Unix(1_700_000_000, 0))
	reg := NewRegistry(RegistryParams{
		MinStake:            testMinStake,
		MinReputation:       50,
		MinActiveValidators: 2,
		ExitCooldown:        24 * time.Hour,
		Clock:               clock,
	})

	nodeA := ids.GenerateTestNodeID()
	nodeB := ids.GenerateTestNodeID()
	nodeC := ids.GenerateTestNodeID()
	for _, id := range []ids.NodeID{nodeA, nodeB, nodeC} {
		require.NoError(reg.Register(id, testMinStake, newTestKey(t)))
	}

	// 3 active, floor 2: one exit allowed
	require.NoError(reg.BeginExit(nodeA))
	require.False(reg.IsEligible(nodeA))

	// 2 active remain, a further exit would breach the floor
	err := reg.BeginExit(nodeB)
	require.ErrorIs(err, ErrBelowActiveSetFloor)

	// governance removal honors the same floor
	err = reg.Remove(nodeB)
	require.ErrorIs(err, ErrBelowActiveSetFloor)

	// stake stays locked until the cooldown elapses
	_, err = reg.CompleteExit(nodeA)
	require.ErrorIs(err, ErrExitCooldownPending)

	clock.Advance(25 * time.Hour)
	stake, err := reg.CompleteExit(nodeA)
	require.NoError(err)
	require.Equal(uint64(testMinStake), stake)
	require.Equal(2, reg.Len())
}
