// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package transfer

import (
	"github.com/luxfi/cache"
	"github.com/luxfi/cache/lru"
	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

const replayCacheSize = 8192

// ReplayGuard enforces at-most-once processing per transfer identifier.
// Once a transfer reaches a terminal (or expired) state its ID is
// recorded durably; any later attestation or mint submission referencing
// it is a silent idempotent no-op, logged but never an error.
type ReplayGuard struct {
	db  database.Database
	log log.Logger

	// seen fronts the database for hot lookups
	seen cache.Cacher[ids.ID, Status]
}

// NewReplayGuard creates a guard backed by db for durability.
func NewReplayGuard(db database.Database, logger log.Logger) *ReplayGuard {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &ReplayGuard{
		db:   db,
		log:  logger,
		seen: lru.NewCache[ids.ID, Status](replayCacheSize),
	}
}

// Mark records a transfer as no longer processable under the given
// status. Idempotent.
func (g *ReplayGuard) Mark(transferID ids.ID, status Status) error {
	if err := g.db.Put(transferID[:], []byte{byte(status)}); err != nil {
		return err
	}
	g.seen.Put(transferID, status)
	return nil
}

// Check reports whether the transfer is already settled. A true return
// means the caller must drop the operation; the rejection is logged at
// debug level with the operation name for traceability.
func (g *ReplayGuard) Check(op string, transferID ids.ID) bool {
	status, settled := g.lookup(transferID)
	if settled {
		g.log.Debug("replay rejected",
			log.String("op", op),
			log.Stringer("transferID", transferID),
			log.Stringer("settledStatus", status),
		)
	}
	return settled
}

// Settled returns the recorded status for a settled transfer, if any.
func (g *ReplayGuard) Settled(transferID ids.ID) (Status, bool) {
	return g.lookup(transferID)
}

func (g *ReplayGuard) lookup(transferID ids.ID) (Status, bool) {
	if status, ok := g.seen.Get(transferID); ok {
		return status, true
	}

	raw, err := g.db.Get(transferID[:])
	if err != nil {
		// database.ErrNotFound and IO failures both read as "not
		// settled"; the destination ledger's idempotent mint absorbs
		// any resulting redundant attempt
		return 0, false
	}
	status := Status(raw[0])
	g.seen.Put(transferID, status)
	return status, true
}
