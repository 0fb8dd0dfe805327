// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"fmt"

	"github.com/luxfi/ids"
)

// AlertType classifies operator alerts.
type AlertType uint8

const (
	// AlertTransferExpired fires when a transfer passes its validation
	// deadline without reaching the attestation threshold.
	AlertTransferExpired AlertType = iota + 1

	// AlertSubmitFailed fires when a mint or refund submission
	// exhausted its retry budget.
	AlertSubmitFailed

	// AlertEquivocation fires when a validator signs conflicting
	// payloads for one transfer.
	AlertEquivocation

	// AlertValidatorSlashed fires when a slash penalty executes.
	AlertValidatorSlashed

	// AlertOracleStale fires when fee quoting pauses on a stale price
	// feed.
	AlertOracleStale

	// AlertMintStalled fires when a submitted mint has not reached its
	// confirmation depth within the expected window and needs operator
	// attention.
	AlertMintStalled
)

func (t AlertType) String() string {
	switch t {
	case AlertTransferExpired:
		return "transfer-expired"
	case AlertSubmitFailed:
		return "submit-failed"
	case AlertEquivocation:
		return "equivocation"
	case AlertValidatorSlashed:
		return "validator-slashed"
	case AlertOracleStale:
		return "oracle-stale"
	case AlertMintStalled:
		return "mint-stalled"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Alert is an operator notification. Alerts are informational; the
// engine never blocks on their delivery.
type Alert struct {
	Type        AlertType
	TransferID  ids.ID
	Amount      uint64
	Description string
}

// Alerter receives operator alerts. Implementations must not block.
type Alerter interface {
	AlertTriggered(Alert)
}

// NoOpAlerter drops all alerts.
type NoOpAlerter struct{}

func (NoOpAlerter) AlertTriggered(Alert) {}
