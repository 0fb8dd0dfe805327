// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validators

import "time"

// Scorer decides how reputation moves in response to validator behavior.
// The reference penalty arithmetic was ad hoc, so the heuristic is kept
// behind this interface and can be swapped without touching the registry.
type Scorer interface {
	// CorrectAttestation is the delta for a timely, valid attestation.
	CorrectAttestation() int

	// MissedWindow is the delta for missing an attestation window.
	MissedWindow() int

	// Misbehavior is the delta for proven misbehavior. Expected to be
	// strongly negative; a single event should cost eligibility.
	Misbehavior() int

	// Decay returns the delta for a validator idle since lastActivity.
	Decay(now, lastActivity time.Time) int
}

// DefaultScorer is the stock reputation heuristic.
type DefaultScorer struct {
	// DecayInterval is how long a validator may idle before losing
	// DecayStep reputation per elapsed interval.
	DecayInterval time.Duration
	DecayStep     int
}

// NewDefaultScorer returns the heuristic used when no custom scorer is
// installed: +2 per correct attestation, -5 per missed window, -40 on
// misbehavior, -1 per 24h of inactivity.
func NewDefaultScorer() *DefaultScorer {
	return &DefaultScorer{
		DecayInterval: 24 * time.Hour,
		DecayStep:     1,
	}
}

func (s *DefaultScorer) CorrectAttestation() int { return 2 }

func (s *DefaultScorer) MissedWindow() int { return -5 }

func (s *DefaultScorer) Misbehavior() int { return -40 }

func (s *DefaultScorer) Decay(now, lastActivity time.Time) int {
	if s.DecayInterval <= 0 || !now.After(lastActivity) {
		return 0
	}
	intervals := int(now.Sub(lastActivity) / s.DecayInterval)
	return -intervals * s.DecayStep
}
