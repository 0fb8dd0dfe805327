// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"
)

func TestDefaultConfigValid(t *testing.T) {
	require := require.New(t)

	cfg := DefaultConfig()
	require.NoError(cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "default",
			mutate: func(*Config) {},
		},
		{
			name:    "zero min stake",
			mutate:  func(c *Config) { c.MinStake = 0 },
			wantErr: true,
		},
		{
			name:    "reputation above 100",
			mutate:  func(c *Config) { c.MinReputation = 101 },
			wantErr: true,
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.ValidationTimeout = -1 },
			wantErr: true,
		},
		{
			name:    "slash above 100 percent",
			mutate:  func(c *Config) { c.SlashBasisPoints = 10_001 },
			wantErr: true,
		},
		{
			name:    "no submit retries",
			mutate:  func(c *Config) { c.SubmitRetries = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(err)
			} else {
				require.NoError(err)
			}
		})
	}
}

func TestChainConfigVerify(t *testing.T) {
	require := require.New(t)

	valid := ChainConfig{
		ChainID:               ids.GenerateTestID(),
		Role:                  RoleSource,
		MinAmount:             1,
		MaxAmount:             1_000_000,
		FeeBasisPoints:        30,
		ConfirmationsRequired: 6,
		AttestationThreshold:  3,
	}
	require.NoError(valid.Verify())

	noRole := valid
	noRole.Role = 0
	require.ErrorIs(noRole.Verify(), ErrInvalidChainRole)

	inverted := valid
	inverted.MinAmount = 10
	inverted.MaxAmount = 5
	require.ErrorIs(inverted.Verify(), ErrInvalidAmountRange)

	noThreshold := valid
	noThreshold.AttestationThreshold = 0
	require.ErrorIs(noThreshold.Verify(), ErrZeroThreshold)
}

func TestChainConfigCheckAmount(t *testing.T) {
	require := require.New(t)

	cfg := ChainConfig{MinAmount: 100, MaxAmount: 500}

	require.False(cfg.CheckAmount(99))
	require.True(cfg.CheckAmount(100))
	require.True(cfg.CheckAmount(500))
	require.False(cfg.CheckAmount(501))
}
