// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package attestation

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/crypto/bls/signer/localsigner"
	"github.com/luxfi/ids"

	"github.com/luxfi/bridge/utils/timer/mockable"
)

// testValidator pairs a node ID with a local signing key.
type testValidator struct {
	nodeID ids.NodeID
	signer *localsigner.LocalSigner
}

func newTestValidators(t *testing.T, n int) []*testValidator {
	t.Helper()

	vdrs := make([]*testValidator, n)
	for i := range vdrs {
		sk, err := localsigner.New()
		require.NoError(t, err)
		vdrs[i] = &testValidator{
			nodeID: ids.GenerateTestNodeID(),
			signer: sk,
		}
	}
	return vdrs
}

// testEligibility backs the aggregator with a fixed validator set.
type testEligibility struct {
	mu         sync.Mutex
	keys       map[ids.NodeID]*bls.PublicKey
	ineligible map[ids.NodeID]bool
}

func newTestEligibility(vdrs []*testValidator) *testEligibility {
	e := &testEligibility{
		keys:       make(map[ids.NodeID]*bls.PublicKey),
		ineligible: make(map[ids.NodeID]bool),
	}
	for _, vdr := range vdrs {
		e.keys[vdr.nodeID] = vdr.signer.PublicKey()
	}
	return e
}

func (e *testEligibility) IsEligible(nodeID ids.NodeID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, known := e.keys[nodeID]
	return known && !e.ineligible[nodeID]
}

func (e *testEligibility) PublicKey(nodeID ids.NodeID) (*bls.PublicKey, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pk, ok := e.keys[nodeID]
	if !ok {
		return nil, ErrIneligibleValidator
	}
	return pk, nil
}

func (e *testEligibility) markIneligible(nodeID ids.NodeID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ineligible[nodeID] = true
}

func testPayload() Payload {
	return Payload{
		TransferID:  ids.GenerateTestID(),
		SourceChain: ids.GenerateTestID(),
		DestChain:   ids.GenerateTestID(),
		Recipient:   []byte{0xde, 0xad, 0xbe, 0xef},
		Amount:      500,
		Nonce:       7,
	}
}

func newTestAggregator(t *testing.T, vdrs []*testValidator) (*Aggregator, *testEligibility, *mockable.Clock) {
	t.Helper()

	clock := &mockable.Clock{}
	clock.Set(time.Unix(1_700_000_000, 0))
	eligibility := newTestEligibility(vdrs)
	agg := NewAggregator(AggregatorParams{
		Eligibility: eligibility,
		Clock:       clock,
	})
	return agg, eligibility, clock
}

func TestAggregatorThreshold(t *testing.T) {
	require := require.New(t)

	vdrs := newTestValidators(t, 5)
	agg, _, clock := newTestAggregator(t, vdrs)

	payload := testPayload()
	deadline := clock.Time().Add(24 * time.Hour)
	require.NoError(agg.Track(payload, 3, deadline))

	for i := 0; i < 2; i++ {
		att, err := Sign(vdrs[i].nodeID, vdrs[i].signer, &payload, clock.Time())
		require.NoError(err)

		outcome, bundle, err := agg.Add(att)
		require.NoError(err)
		require.Equal(OutcomeAccepted, outcome)
		require.Nil(bundle)
	}
	require.Equal(2, agg.Count(payload.TransferID))

	// Third unique attestation completes the threshold
	att, err := Sign(vdrs[2].nodeID, vdrs[2].signer, &payload, clock.Time())
	require.NoError(err)

	outcome, bundle, err := agg.Add(att)
	require.NoError(err)
	require.Equal(OutcomeThreshold, outcome)
	require.NotNil(bundle)
	require.Equal(payload.TransferID, bundle.TransferID)
	require.Len(bundle.Attestations, 3)

	// Bundle is the first 3 arrivals ordered by validator ID
	for i := 1; i < len(bundle.Attestations); i++ {
		prev := bundle.Attestations[i-1].ValidatorID
		cur := bundle.Attestations[i].ValidatorID
		require.Negative(bytes.Compare(prev.Bytes(), cur.Bytes()))
	}
}

func TestAggregatorDuplicateValidator(t *testing.T) {
	require := require.New(t)

	vdrs := newTestValidators(t, 3)
	agg, _, clock := newTestAggregator(t, vdrs)

	payload := testPayload()
	require.NoError(agg.Track(payload, 3, clock.Time().Add(time.Hour)))

	att, err := Sign(vdrs[0].nodeID, vdrs[0].signer, &payload, clock.Time())
	require.NoError(err)

	outcome, _, err := agg.Add(att)
	require.NoError(err)
	require.Equal(OutcomeAccepted, outcome)

	// Re-sending the same attestation does not grow the counted set
	outcome, _, err = agg.Add(att)
	require.NoError(err)
	require.Equal(OutcomeDuplicate, outcome)
	require.Equal(1, agg.Count(payload.TransferID))
}

func TestAggregatorRejectsIneligible(t *testing.T) {
	require := require.New(t)

	vdrs := newTestValidators(t, 3)
	agg, eligibility, clock := newTestAggregator(t, vdrs)

	payload := testPayload()
	require.NoError(agg.Track(payload, 2, clock.Time().Add(time.Hour)))

	// Eligibility is evaluated at acceptance time: a validator that was
	// fine at signing time is still rejected if it lost eligibility since
	att, err := Sign(vdrs[0].nodeID, vdrs[0].signer, &payload, clock.Time())
	require.NoError(err)
	eligibility.markIneligible(vdrs[0].nodeID)

	_, _, err = agg.Add(att)
	require.ErrorIs(err, ErrIneligibleValidator)
	require.Zero(agg.Count(payload.TransferID))

	// Unknown validators are rejected outright
	stranger, err := localsigner.New()
	require.NoError(err)
	att, err = Sign(ids.GenerateTestNodeID(), stranger, &payload, clock.Time())
	require.NoError(err)

	_, _, err = agg.Add(att)
	require.ErrorIs(err, ErrIneligibleValidator)
}

func TestAggregatorRejectsBadSignature(t *testing.T) {
	require := require.New(t)

	vdrs := newTestValidators(t, 2)
	agg, _, clock := newTestAggregator(t, vdrs)

	payload := testPayload()
	require.NoError(agg.Track(payload, 2, clock.Time().Add(time.Hour)))

	// Signature from a different key than the registered one
	att, err := Sign(vdrs[0].nodeID, vdrs[1].signer, &payload, clock.Time())
	require.NoError(err)

	_, _, err = agg.Add(att)
	require.ErrorIs(err, ErrInvalidSignature)
	require.Zero(agg.Count(payload.TransferID))
}

func TestAggregatorWindowExpiry(t *testing.T) {
	require := require.New(t)

	vdrs := newTestValidators(t, 3)
	agg, _, clock := newTestAggregator(t, vdrs)

	payload := testPayload()
	require.NoError(agg.Track(payload, 3, clock.Time().Add(24*time.Hour)))

	att, err := Sign(vdrs[0].nodeID, vdrs[0].signer, &payload, clock.Time())
	require.NoError(err)
	_, _, err = agg.Add(att)
	require.NoError(err)

	clock.Advance(24*time.Hour + time.Minute)
	require.True(agg.Expired(payload.TransferID))

	// The fired deadline cancels further attestation acceptance
	att, err = Sign(vdrs[1].nodeID, vdrs[1].signer, &payload, clock.Time())
	require.NoError(err)
	_, _, err = agg.Add(att)
	require.ErrorIs(err, ErrWindowExpired)

	require.Equal(1, agg.Close(payload.TransferID))
}

func TestAggregatorEquivocationDetection(t *testing.T) {
	require := require.New(t)

	vdrs := newTestValidators(t, 3)
	agg, eligibility, clock := newTestAggregator(t, vdrs)

	var (
		reportedNode     ids.NodeID
		reportedTransfer ids.ID
		reports          int
	)
	agg.onEquivocation = func(nodeID ids.NodeID, transferID ids.ID, first, second *Attestation) {
		reportedNode = nodeID
		reportedTransfer = transferID
		reports++
		require.NotNil(first)
		require.NotNil(second)
		require.NotEqual(first.Digest, second.Digest)
	}
	_ = eligibility

	payload := testPayload()
	require.NoError(agg.Track(payload, 3, clock.Time().Add(time.Hour)))

	// Honest attestation first
	att, err := Sign(vdrs[0].nodeID, vdrs[0].signer, &payload, clock.Time())
	require.NoError(err)
	_, _, err = agg.Add(att)
	require.NoError(err)

	// Same validator signs a conflicting payload for the same transfer
	conflicting := payload
	conflicting.Amount = 999_999
	att2, err := Sign(vdrs[0].nodeID, vdrs[0].signer, &conflicting, clock.Time())
	require.NoError(err)

	_, _, err = agg.Add(att2)
	require.ErrorIs(err, ErrConflictingPayload)
	require.Equal(1, reports)
	require.Equal(vdrs[0].nodeID, reportedNode)
	require.Equal(payload.TransferID, reportedTransfer)

	// The conflicting attestation was not counted
	require.Equal(1, agg.Count(payload.TransferID))
}

func TestAggregatorStripAttestor(t *testing.T) {
	require := require.New(t)

	vdrs := newTestValidators(t, 3)
	agg, _, clock := newTestAggregator(t, vdrs)

	payload := testPayload()
	require.NoError(agg.Track(payload, 2, clock.Time().Add(time.Hour)))

	for i := 0; i < 2; i++ {
		att, err := Sign(vdrs[i].nodeID, vdrs[i].signer, &payload, clock.Time())
		require.NoError(err)
		_, _, err = agg.Add(att)
		require.NoError(err)
	}
	require.Equal(2, agg.Count(payload.TransferID))

	require.True(agg.StripAttestor(payload.TransferID, vdrs[0].nodeID))
	require.Equal(1, agg.Count(payload.TransferID))
	require.False(agg.StripAttestor(payload.TransferID, vdrs[0].nodeID))

	// The window reopens: a fresh attestation completes the threshold again
	att, err := Sign(vdrs[2].nodeID, vdrs[2].signer, &payload, clock.Time())
	require.NoError(err)
	outcome, bundle, err := agg.Add(att)
	require.NoError(err)
	require.Equal(OutcomeThreshold, outcome)
	require.Len(bundle.Attestations, 2)
}

func TestAggregatorConcurrentTransfers(t *testing.T) {
	require := require.New(t)

	vdrs := newTestValidators(t, 4)
	agg, _, clock := newTestAggregator(t, vdrs)

	// Unrelated transfers share no lock: drive them from parallel
	// goroutines and expect every one to reach its threshold
	const numTransfers = 16
	payloads := make([]Payload, numTransfers)
	for i := range payloads {
		payloads[i] = testPayload()
		require.NoError(agg.Track(payloads[i], len(vdrs), clock.Time().Add(time.Hour)))
	}

	var wg sync.WaitGroup
	for i := range payloads {
		wg.Add(1)
		go func(p Payload) {
			defer wg.Done()
			for _, vdr := range vdrs {
				att, err := Sign(vdr.nodeID, vdr.signer, &p, clock.Time())
				require.NoError(err)
				_, _, err = agg.Add(att)
				require.NoError(err)
			}
		}(payloads[i])
	}
	wg.Wait()

	for i := range payloads {
		require.Equal(len(vdrs), agg.Count(payloads[i].TransferID))
	}
}

func TestAggregatorLoneConflictNotEquivocation(t *testing.T) {
	require := require.New(t)

	vdrs := newTestValidators(t, 3)
	agg, _, clock := newTestAggregator(t, vdrs)

	reports := 0
	agg.onEquivocation = func(ids.NodeID, ids.ID, *Attestation, *Attestation) {
		reports++
	}

	payload := testPayload()
	require.NoError(agg.Track(payload, 3, clock.Time().Add(time.Hour)))

	// A validator with no earlier attestation signs a payload that
	// conflicts with the canonical one. One signature is not an
	// equivocation proof: the attestation is rejected and nothing else
	conflicting := payload
	conflicting.Amount = 999_999
	att, err := Sign(vdrs[0].nodeID, vdrs[0].signer, &conflicting, clock.Time())
	require.NoError(err)

	_, _, err = agg.Add(att)
	require.ErrorIs(err, ErrConflictingPayload)
	require.Zero(reports)
	require.Zero(agg.Count(payload.TransferID))

	// The validator is still counted when it attests honestly
	honest, err := Sign(vdrs[0].nodeID, vdrs[0].signer, &payload, clock.Time())
	require.NoError(err)
	outcome, _, err := agg.Add(honest)
	require.NoError(err)
	require.Equal(OutcomeAccepted, outcome)
}

func TestAggregatorRejectsRelabeledAttestation(t *testing.T) {
	require := require.New(t)

	vdrs := newTestValidators(t, 3)
	agg, _, clock := newTestAggregator(t, vdrs)

	reports := 0
	agg.onEquivocation = func(ids.NodeID, ids.ID, *Attestation, *Attestation) {
		reports++
	}

	payloadA := testPayload()
	payloadB := testPayload()
	deadline := clock.Time().Add(time.Hour)
	require.NoError(agg.Track(payloadA, 2, deadline))
	require.NoError(agg.Track(payloadB, 2, deadline))

	// A perfectly valid attestation for transfer A, resubmitted under
	// transfer B's ID. The signature binds to A's payload, so the swap
	// is a plain rejection, never misbehavior evidence
	att, err := Sign(vdrs[0].nodeID, vdrs[0].signer, &payloadA, clock.Time())
	require.NoError(err)
	att.TransferID = payloadB.TransferID

	_, _, err = agg.Add(att)
	require.ErrorIs(err, ErrWrongTransfer)
	require.Zero(reports)
	require.Zero(agg.Count(payloadB.TransferID))

	// Rewriting the carried payload's transfer ID instead breaks the
	// signed digest and fails signature verification
	forged := payloadA
	forged.TransferID = payloadB.TransferID
	relabeled := &Attestation{
		ValidatorID: att.ValidatorID,
		TransferID:  payloadB.TransferID,
		Payload:     forged,
		Digest:      forged.Digest(),
		Signature:   att.Signature,
		Timestamp:   att.Timestamp,
	}
	_, _, err = agg.Add(relabeled)
	require.ErrorIs(err, ErrInvalidSignature)
	require.Zero(reports)
}
