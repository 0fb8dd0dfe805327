// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fees

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/luxfi/log"
	safemath "github.com/luxfi/math"

	"github.com/luxfi/bridge/utils/timer/mockable"
)

var (
	ErrOracleStale      = errors.New("price oracle is stale")
	ErrFeeOverflow      = errors.New("fee computation overflow")
	ErrBelowFiatMinimum = errors.New("amount below fiat minimum")
	ErrAboveFiatMaximum = errors.New("amount above fiat maximum")
)

// Quote is a priced transfer fee.
type Quote struct {
	Fee       uint64
	Price     *big.Int
	PricedAt  time.Time
	Round     uint64
}

// CalculatorParams configures a Calculator. FiatMinimum and
// FiatMaximum bound amount*price; zero values disable the
// corresponding check.
type CalculatorParams struct {
	BaseFee          uint64
	Oracle           Oracle
	StalenessCutoff  time.Duration
	FiatMinimum      *big.Int
	FiatMaximum      *big.Int
	Clock            *mockable.Clock
	Log              log.Logger
}

// Calculator computes transfer fees. Fee arithmetic never depends on
// the oracle; only the fiat-denominated bound checks do, so a stale
// feed pauses quoting without touching attestation processing.
type Calculator struct {
	baseFee     uint64
	oracle      Oracle
	staleCutoff time.Duration
	fiatMin     *big.Int
	fiatMax     *big.Int
	clock       *mockable.Clock
	log         log.Logger
}

// NewCalculator creates a fee calculator.
func NewCalculator(params CalculatorParams) *Calculator {
	clock := params.Clock
	if clock == nil {
		clock = &mockable.Clock{}
	}
	logger := params.Log
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Calculator{
		baseFee:     params.BaseFee,
		oracle:      params.Oracle,
		staleCutoff: params.StalenessCutoff,
		fiatMin:     params.FiatMinimum,
		fiatMax:     params.FiatMaximum,
		clock:       clock,
		log:         logger,
	}
}

// Fee computes baseFee + amount*feeBasisPoints/10000 with overflow
// checks. It needs no oracle and never pauses.
func (c *Calculator) Fee(amount uint64, feeBasisPoints uint64) (uint64, error) {
	variable, err := safemath.Mul64(amount, feeBasisPoints)
	if err != nil {
		// amount*bps overflows; divide first at the cost of rounding
		variable = (amount / 10_000) * feeBasisPoints
	} else {
		variable /= 10_000
	}

	total, err := safemath.Add64(c.baseFee, variable)
	if err != nil {
		return 0, fmt.Errorf("%w: base %d + variable %d", ErrFeeOverflow, c.baseFee, variable)
	}
	return total, nil
}

// Quote prices a transfer: it computes the fee and enforces the fiat
// bounds using the oracle. A stale oracle fails the quote with
// ErrOracleStale.
func (c *Calculator) Quote(pair string, amount uint64, feeBasisPoints uint64) (Quote, error) {
	fee, err := c.Fee(amount, feeBasisPoints)
	if err != nil {
		return Quote{}, err
	}

	price, pricedAt, round, err := c.oracle.GetPrice(pair)
	if err != nil {
		return Quote{}, err
	}
	if age := c.clock.Time().Sub(pricedAt); age > c.staleCutoff {
		c.log.Warn("fee quoting paused on stale oracle",
			log.String("pair", pair),
			log.Duration("age", age),
			log.Uint64("round", round),
		)
		return Quote{}, fmt.Errorf("%w: %s last updated %s ago (round %d)",
			ErrOracleStale, pair, age, round)
	}

	fiatValue := new(big.Int).Mul(new(big.Int).SetUint64(amount), price)
	if c.fiatMin != nil && c.fiatMin.Sign() > 0 && fiatValue.Cmp(c.fiatMin) < 0 {
		return Quote{}, fmt.Errorf("%w: value %s < %s", ErrBelowFiatMinimum, fiatValue, c.fiatMin)
	}
	if c.fiatMax != nil && c.fiatMax.Sign() > 0 && fiatValue.Cmp(c.fiatMax) > 0 {
		return Quote{}, fmt.Errorf("%w: value %s > %s", ErrAboveFiatMaximum, fiatValue, c.fiatMax)
	}

	return Quote{
		Fee:      fee,
		Price:    price,
		PricedAt: pricedAt,
		Round:    round,
	}, nil
}
