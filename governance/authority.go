// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package governance gates privileged bridge operations behind M-of-N
// approval. A proposal executes only once a quorum of distinct
// governors has approved it; no single key can mutate the validator
// set or pause the bridge.
package governance

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/bridge/utils/timer/mockable"
)

var (
	ErrNotGovernor     = errors.New("not an authorized governor")
	ErrUnknownProposal = errors.New("unknown proposal")
	ErrAlreadyApproved = errors.New("governor already approved")
	ErrProposalClosed  = errors.New("proposal already closed")
	ErrProposalExpired = errors.New("proposal expired")
	ErrBadQuorum       = errors.New("quorum must be between 1 and the governor count")
)

// ProposalStatus tracks a proposal's lifecycle.
type ProposalStatus uint8

const (
	ProposalOpen ProposalStatus = iota + 1
	ProposalExecuted
	ProposalExpired
)

// Proposal is a privileged operation awaiting approvals.
type Proposal struct {
	ID          ids.ID
	Description string
	Proposer    ids.NodeID
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Status      ProposalStatus

	approvals map[ids.NodeID]struct{}
	execute   func() error
}

// Approvals returns the number of distinct approvals collected.
func (p *Proposal) Approvals() int {
	return len(p.approvals)
}

// Params configures an Authority.
type Params struct {
	Governors []ids.NodeID
	Quorum    int
	// TTL bounds how long a proposal stays open; zero means no expiry.
	TTL   time.Duration
	Clock *mockable.Clock
	Log   log.Logger
}

// Authority collects approvals and executes proposals at quorum.
type Authority struct {
	governors map[ids.NodeID]struct{}
	quorum    int
	ttl       time.Duration
	clock     *mockable.Clock
	log       log.Logger

	mu        sync.Mutex
	proposals map[ids.ID]*Proposal
	nextSeq   uint64
}

// NewAuthority creates an authority over the given governor set.
func NewAuthority(params Params) (*Authority, error) {
	if params.Quorum < 1 || params.Quorum > len(params.Governors) {
		return nil, fmt.Errorf("%w: quorum %d, governors %d",
			ErrBadQuorum, params.Quorum, len(params.Governors))
	}
	governors := make(map[ids.NodeID]struct{}, len(params.Governors))
	for _, g := range params.Governors {
		governors[g] = struct{}{}
	}
	clock := params.Clock
	if clock == nil {
		clock = &mockable.Clock{}
	}
	logger := params.Log
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Authority{
		governors: governors,
		quorum:    params.Quorum,
		ttl:       params.TTL,
		clock:     clock,
		log:       logger,
		proposals: make(map[ids.ID]*Proposal),
	}, nil
}

// Quorum returns the approval count required to execute.
func (a *Authority) Quorum() int { return a.quorum }

// Propose opens a proposal for the given operation. The proposer's own
// approval is counted immediately; with a quorum of 1 the operation
// executes before Propose returns.
func (a *Authority) Propose(proposer ids.NodeID, description string, execute func() error) (*Proposal, error) {
	if _, ok := a.governors[proposer]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotGovernor, proposer)
	}

	a.mu.Lock()
	now := a.clock.Time()
	a.nextSeq++
	p := &Proposal{
		ID:          proposalID(proposer, description, a.nextSeq),
		Description: description,
		Proposer:    proposer,
		CreatedAt:   now,
		Status:      ProposalOpen,
		approvals:   map[ids.NodeID]struct{}{proposer: {}},
		execute:     execute,
	}
	if a.ttl > 0 {
		p.ExpiresAt = now.Add(a.ttl)
	}
	a.proposals[p.ID] = p
	reached := len(p.approvals) >= a.quorum
	a.mu.Unlock()

	a.log.Info("proposal opened",
		log.Stringer("proposalID", p.ID),
		log.Stringer("proposer", proposer),
		log.String("description", description),
		log.Int("quorum", a.quorum),
	)

	if reached {
		return p, a.executeProposal(p)
	}
	return p, nil
}

// Approve records a governor's approval. The proposal executes when
// the quorum is reached; executed reports whether this approval
// triggered it.
func (a *Authority) Approve(id ids.ID, governor ids.NodeID) (executed bool, err error) {
	if _, ok := a.governors[governor]; !ok {
		return false, fmt.Errorf("%w: %s", ErrNotGovernor, governor)
	}

	a.mu.Lock()
	p, ok := a.proposals[id]
	if !ok {
		a.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownProposal, id)
	}
	if p.Status != ProposalOpen {
		a.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrProposalClosed, id)
	}
	if !p.ExpiresAt.IsZero() && a.clock.Time().After(p.ExpiresAt) {
		p.Status = ProposalExpired
		a.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrProposalExpired, id)
	}
	if _, ok := p.approvals[governor]; ok {
		a.mu.Unlock()
		return false, fmt.Errorf("%w: %s on %s", ErrAlreadyApproved, governor, id)
	}
	p.approvals[governor] = struct{}{}
	count := len(p.approvals)
	reached := count >= a.quorum
	a.mu.Unlock()

	a.log.Info("proposal approved",
		log.Stringer("proposalID", id),
		log.Stringer("governor", governor),
		log.Int("approvals", count),
		log.Int("quorum", a.quorum),
	)

	if !reached {
		return false, nil
	}
	return true, a.executeProposal(p)
}

// Get returns a copy of the proposal with the given ID. The approval
// set is copied so the caller never shares map state with concurrent
// Approve calls.
func (a *Authority) Get(id ids.ID) (Proposal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.proposals[id]
	if !ok {
		return Proposal{}, fmt.Errorf("%w: %s", ErrUnknownProposal, id)
	}
	cp := *p
	cp.approvals = make(map[ids.NodeID]struct{}, len(p.approvals))
	for g := range p.approvals {
		cp.approvals[g] = struct{}{}
	}
	return cp, nil
}

func (a *Authority) executeProposal(p *Proposal) error {
	a.mu.Lock()
	if p.Status != ProposalOpen {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProposalClosed, p.ID)
	}
	p.Status = ProposalExecuted
	a.mu.Unlock()

	if err := p.execute(); err != nil {
		a.log.Error("proposal execution failed",
			log.Stringer("proposalID", p.ID),
			log.Err(err),
		)
		return err
	}
	a.log.Info("proposal executed",
		log.Stringer("proposalID", p.ID),
		log.String("description", p.Description),
	)
	return nil
}

func proposalID(proposer ids.NodeID, description string, seq uint64) ids.ID {
	h := sha256.New()
	h.Write(proposer.Bytes())
	h.Write([]byte(description))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	h.Write(buf[:])
	return ids.ID(h.Sum(nil))
}
