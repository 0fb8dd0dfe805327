// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chainadapter

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/luxfi/ids"

	"github.com/luxfi/bridge/attestation"
)

// Simulated is an in-memory Adapter for tests and local runs. Lock
// events are injected with Lock, confirmation depths advance with
// Mine, and failures are injected with FailNext to exercise retry
// paths.
type Simulated struct {
	chainID               ids.ID
	confirmationsRequired uint64

	mu            sync.Mutex
	subscribers   []chan LockEvent
	pendingLocks  []LockEvent
	confirmations map[ids.ID]uint64
	mints         map[ids.ID]ids.ID
	mintAmounts   map[ids.ID]uint64
	refunds       map[ids.ID]ids.ID
	failuresLeft  int
	closed        bool
}

// NewSimulated creates a simulated chain requiring the given
// confirmation depth before forwarding lock events.
func NewSimulated(chainID ids.ID, confirmationsRequired uint64) *Simulated {
	return &Simulated{
		chainID:               chainID,
		confirmationsRequired: confirmationsRequired,
		confirmations:         make(map[ids.ID]uint64),
		mints:                 make(map[ids.ID]ids.ID),
		mintAmounts:           make(map[ids.ID]uint64),
		refunds:               make(map[ids.ID]ids.ID),
	}
}

func (s *Simulated) ChainID() ids.ID { return s.chainID }

func (s *Simulated) SubscribeLocks(ctx context.Context) (<-chan LockEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrAdapterShutdown
	}

	ch := make(chan LockEvent, 64)
	s.subscribers = append(s.subscribers, ch)

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subscribers {
			if sub == ch {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}()
	return ch, nil
}

// Lock records a deposit bridging to destChain. The event is held
// back until Mine advances its confirmation depth far enough.
func (s *Simulated) Lock(destChain ids.ID, sender, recipient []byte, amount, nonce uint64) ids.ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	txID := s.txID("lock", nonce)
	event := LockEvent{
		SourceChain: s.chainID,
		DestChain:   destChain,
		Sender:      sender,
		Recipient:   recipient,
		Amount:      amount,
		Nonce:       nonce,
		LockTxID:    txID,
	}
	s.confirmations[txID] = 0
	s.pendingLocks = append(s.pendingLocks, event)
	s.deliverLocked()
	return txID
}

// Mine advances every known transaction by depth confirmations and
// forwards lock events that cross the required threshold.
func (s *Simulated) Mine(depth uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for txID := range s.confirmations {
		s.confirmations[txID] += depth
	}
	s.deliverLocked()
}

// FailNext makes the next n submissions return ErrSubmitFailed.
func (s *Simulated) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failuresLeft = n
}

func (s *Simulated) SubmitMint(ctx context.Context, transferID ids.ID, bundle *attestation.ProofBundle, amount uint64) (ids.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ids.Empty, ErrAdapterShutdown
	}
	if txID, ok := s.mints[transferID]; ok {
		return txID, nil
	}
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return ids.Empty, fmt.Errorf("%w: injected fault", ErrSubmitFailed)
	}

	txID := s.txID("mint", uint64(len(s.mints)))
	s.mints[transferID] = txID
	s.mintAmounts[transferID] = amount
	s.confirmations[txID] = 0
	return txID, nil
}

func (s *Simulated) SubmitRefund(ctx context.Context, transferID ids.ID, recipient []byte, amount uint64) (ids.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ids.Empty, ErrAdapterShutdown
	}
	if txID, ok := s.refunds[transferID]; ok {
		return txID, nil
	}
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return ids.Empty, fmt.Errorf("%w: injected fault", ErrSubmitFailed)
	}

	txID := s.txID("refund", uint64(len(s.refunds)))
	s.refunds[transferID] = txID
	s.confirmations[txID] = 0
	return txID, nil
}

func (s *Simulated) Confirmations(ctx context.Context, txID ids.ID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	depth, ok := s.confirmations[txID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTx, txID)
	}
	return depth, nil
}

// MintTx returns the mint transaction recorded for a transfer, if any.
func (s *Simulated) MintTx(transferID ids.ID) (ids.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txID, ok := s.mints[transferID]
	return txID, ok
}

// MintedAmount returns the token amount a transfer's mint carried.
func (s *Simulated) MintedAmount(transferID ids.ID) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	amount, ok := s.mintAmounts[transferID]
	return amount, ok
}

// RefundTx returns the refund transaction recorded for a transfer, if
// any.
func (s *Simulated) RefundTx(transferID ids.ID) (ids.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txID, ok := s.refunds[transferID]
	return txID, ok
}

// Close shuts the adapter down and closes all subscriber channels.
func (s *Simulated) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
}

// deliverLocked forwards pending lock events that have reached the
// required confirmation depth. Callers must hold s.mu.
func (s *Simulated) deliverLocked() {
	remaining := s.pendingLocks[:0]
	for _, event := range s.pendingLocks {
		depth := s.confirmations[event.LockTxID]
		if depth < s.confirmationsRequired {
			remaining = append(remaining, event)
			continue
		}
		event.Confirmations = depth
		for _, ch := range s.subscribers {
			select {
			case ch <- event:
			default:
			}
		}
	}
	s.pendingLocks = remaining
}

func (s *Simulated) txID(kind string, n uint64) ids.ID {
	h := sha256.New()
	chainID := s.chainID
	h.Write(chainID[:])
	h.Write([]byte(kind))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	h.Write(buf[:])
	return ids.ID(h.Sum(nil))
}
