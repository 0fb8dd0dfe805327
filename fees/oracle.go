// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fees computes bridge transfer fees and enforces the
// fiat-denominated amount bounds based on an external price oracle.
package fees

import (
	"errors"
	"math/big"
	"sync"
	"time"
)

var (
	ErrNoObservations = errors.New("no price observations available")
	ErrInvalidWindow  = errors.New("observation window must be positive")
)

// Oracle reports the price of an asset pair. Prices are scaled
// integers; Round identifies the oracle update the price came from so
// callers can detect a stuck feed.
type Oracle interface {
	GetPrice(pair string) (price *big.Int, timestamp time.Time, round uint64, err error)
}

// PricePoint is a single price observation at a specific time.
type PricePoint struct {
	Price     *big.Int
	Timestamp time.Time
	Round     uint64
}

// Feed is a time-weighted price oracle for one pair. It averages
// observations over a rolling window so a single manipulated update
// cannot swing the fiat bound checks.
type Feed struct {
	pair    string
	window  time.Duration
	maxObs  int

	mu           sync.RWMutex
	observations []PricePoint
	round        uint64
}

// NewFeed creates a feed averaging over the given window and keeping
// at most maxObservations points.
func NewFeed(pair string, window time.Duration, maxObservations int) (*Feed, error) {
	if window <= 0 {
		return nil, ErrInvalidWindow
	}
	if maxObservations <= 0 {
		maxObservations = 1000
	}
	return &Feed{
		pair:         pair,
		window:       window,
		maxObs:       maxObservations,
		observations: make([]PricePoint, 0, 64),
	}, nil
}

// Record adds a price observation. Non-positive prices are ignored.
func (f *Feed) Record(price *big.Int, timestamp time.Time) {
	if price == nil || price.Sign() <= 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.round++
	f.observations = append(f.observations, PricePoint{
		Price:     new(big.Int).Set(price),
		Timestamp: timestamp,
		Round:     f.round,
	})
	f.prune(timestamp)
}

// prune drops observations older than 2x the window and enforces the
// observation cap. Must be called with the lock held.
func (f *Feed) prune(now time.Time) {
	cutoff := now.Add(-2 * f.window)

	startIdx := 0
	for i, obs := range f.observations {
		if obs.Timestamp.After(cutoff) {
			startIdx = i
			break
		}
		startIdx = i + 1
	}
	if startIdx > 0 && startIdx < len(f.observations) {
		copy(f.observations, f.observations[startIdx:])
		f.observations = f.observations[:len(f.observations)-startIdx]
	} else if startIdx >= len(f.observations) {
		f.observations = f.observations[:0]
	}

	if len(f.observations) > f.maxObs {
		excess := len(f.observations) - f.maxObs
		copy(f.observations, f.observations[excess:])
		f.observations = f.observations[:f.maxObs]
	}
}

// GetPrice returns the time-weighted average over the window ending at
// the most recent observation, with that observation's timestamp and
// round. Staleness judgment is the caller's.
func (f *Feed) GetPrice(pair string) (*big.Int, time.Time, uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if pair != f.pair || len(f.observations) == 0 {
		return nil, time.Time{}, 0, ErrNoObservations
	}

	last := f.observations[len(f.observations)-1]
	windowStart := last.Timestamp.Add(-f.window)

	var relevant []PricePoint
	for _, obs := range f.observations {
		if !obs.Timestamp.Before(windowStart) {
			relevant = append(relevant, obs)
		}
	}
	if len(relevant) == 1 {
		return new(big.Int).Set(relevant[0].Price), last.Timestamp, last.Round, nil
	}

	totalWeighted := big.NewInt(0)
	totalDuration := int64(0)
	for i := 0; i < len(relevant)-1; i++ {
		durationSecs := int64(relevant[i+1].Timestamp.Sub(relevant[i].Timestamp).Seconds())
		if durationSecs > 0 {
			weighted := new(big.Int).Mul(relevant[i].Price, big.NewInt(durationSecs))
			totalWeighted.Add(totalWeighted, weighted)
			totalDuration += durationSecs
		}
	}
	if totalDuration == 0 {
		// All observations share a timestamp
		return new(big.Int).Set(last.Price), last.Timestamp, last.Round, nil
	}

	avg := new(big.Int).Div(totalWeighted, big.NewInt(totalDuration))
	return avg, last.Timestamp, last.Round, nil
}

// LastRound returns the round of the most recent observation.
func (f *Feed) LastRound() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.round
}

// ObservationCount returns the number of retained observations.
func (f *Feed) ObservationCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.observations)
}
