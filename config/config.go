// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines configuration types for the bridge engine.
package config

import (
	"errors"
	"time"

	"github.com/luxfi/ids"
)

var (
	ErrUnknownChain       = errors.New("unknown chain")
	ErrInvalidChainRole   = errors.New("invalid chain role")
	ErrInvalidAmountRange = errors.New("min amount must not exceed max amount")
	ErrZeroThreshold      = errors.New("attestation threshold must be positive")
	ErrZeroMinStake       = errors.New("min stake must be positive")
)

// Role describes how a chain participates in a transfer.
type Role uint8

const (
	RoleSource Role = iota + 1
	RoleDestination
)

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleDestination:
		return "destination"
	default:
		return "unknown"
	}
}

// ChainConfig describes one ledger the bridge is connected to.
// A ChainConfig is immutable once any transfer references it; threshold
// changes land in a new config applied to transfers created afterwards.
type ChainConfig struct {
	ChainID      ids.ID `json:"chainId"`
	Role         Role   `json:"role"`
	TokenAddress []byte `json:"tokenAddress"`

	// MinAmount and MaxAmount bound per-transfer value for this chain pair
	MinAmount uint64 `json:"minAmount"`
	MaxAmount uint64 `json:"maxAmount"`

	// FeeBasisPoints is the proportional bridge fee (100 = 1%)
	FeeBasisPoints uint64 `json:"feeBasisPoints"`

	// ConfirmationsRequired is the reorg-safety depth before a lock event
	// is forwarded to the transfer state machine
	ConfirmationsRequired uint64 `json:"confirmationsRequired"`

	// AttestationThreshold is the number of unique valid attestations
	// required before a mint is authorized on this chain pair
	AttestationThreshold int `json:"attestationThreshold"`
}

// Verify checks internal consistency of a chain config.
func (c *ChainConfig) Verify() error {
	switch {
	case c.Role != RoleSource && c.Role != RoleDestination:
		return ErrInvalidChainRole
	case c.MinAmount > c.MaxAmount:
		return ErrInvalidAmountRange
	case c.AttestationThreshold <= 0:
		return ErrZeroThreshold
	}
	return nil
}

// CheckAmount reports whether amount is inside this chain's transfer bounds.
func (c *ChainConfig) CheckAmount(amount uint64) bool {
	return amount >= c.MinAmount && amount <= c.MaxAmount
}

// Config contains engine-wide parameters for the bridge.
type Config struct {
	// Validator economics
	MinStake      uint64 `json:"minStake"`
	MinReputation uint8  `json:"minReputation"`

	// MinActiveValidators is the floor below which the active set may not
	// shrink through voluntary exit or governance removal
	MinActiveValidators int           `json:"minActiveValidators"`
	ExitCooldown        time.Duration `json:"exitCooldown"`

	// Transfer lifecycle
	ValidationTimeout time.Duration `json:"validationTimeout"`
	RefundGracePeriod time.Duration `json:"refundGracePeriod"`

	// Slashing
	SlashBasisPoints uint64        `json:"slashBasisPoints"`
	DisputeWindow    time.Duration `json:"disputeWindow"`

	// Fees
	BaseFee                uint64        `json:"baseFee"`
	OracleStalenessCutoff  time.Duration `json:"oracleStalenessCutoff"`
	FiatMinimum            uint64        `json:"fiatMinimum"` // denominated in oracle quote units
	FiatMaximum            uint64        `json:"fiatMaximum"`
	OracleObservationLimit int           `json:"oracleObservationLimit"`

	// Chain submission retries
	SubmitRetries   int           `json:"submitRetries"`
	SubmitRetryWait time.Duration `json:"submitRetryWait"`

	// Governance
	GovernanceQuorum int `json:"governanceQuorum"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MinStake:      10_000,
		MinReputation: 50,

		MinActiveValidators: 4,
		ExitCooldown:        7 * 24 * time.Hour,

		ValidationTimeout: 24 * time.Hour,
		RefundGracePeriod: 6 * time.Hour,

		SlashBasisPoints: 1000, // 10%
		DisputeWindow:    48 * time.Hour,

		BaseFee:                10,
		OracleStalenessCutoff:  15 * time.Minute,
		FiatMinimum:            0,
		FiatMaximum:            0, // 0 disables the fiat cap
		OracleObservationLimit: 1000,

		SubmitRetries:   5,
		SubmitRetryWait: 2 * time.Second,

		GovernanceQuorum: 2,
	}
}

// Validate checks engine parameters for obvious misconfiguration.
func (c *Config) Validate() error {
	switch {
	case c.MinStake == 0:
		return ErrZeroMinStake
	case c.MinReputation > 100:
		return errors.New("min reputation must be within [0,100]")
	case c.ValidationTimeout <= 0:
		return errors.New("validation timeout must be positive")
	case c.SlashBasisPoints > 10_000:
		return errors.New("slash basis points must not exceed 10000")
	case c.SubmitRetries <= 0:
		return errors.New("submit retries must be positive")
	case c.GovernanceQuorum <= 0:
		return errors.New("governance quorum must be positive")
	}
	return nil
}
