// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics exposes counters and gauges for bridge operation.
package metrics

import (
	"github.com/luxfi/metric"
)

const statusLabel = "status"

var (
	_ Metrics = (*metricsImpl)(nil)

	statusLabels = []string{statusLabel}
)

// Metrics records bridge activity for monitoring.
type Metrics interface {
	IncTransfersCreated()
	MarkTransferSettled(status string)
	IncAttestationsAccepted()
	IncAttestationsRejected()
	IncEquivocations()
	IncSlashEvents()
	IncMintSubmissions()
	IncMintRetries()
	IncAlerts()
	SetPendingTransfers(n int)
	SetActiveValidators(n int)
}

type metricsImpl struct {
	numTransfersCreated     metric.Counter
	numTransfersSettled     metric.CounterVec
	numAttestationsAccepted metric.Counter
	numAttestationsRejected metric.Counter
	numEquivocations        metric.Counter
	numSlashEvents          metric.Counter
	numMintSubmissions      metric.Counter
	numMintRetries          metric.Counter
	numAlerts               metric.Counter
	pendingTransfers        metric.Gauge
	activeValidators        metric.Gauge
}

// New creates self-registering bridge metrics.
func New(registerer metric.Registerer) (Metrics, error) {
	m := &metricsImpl{
		numTransfersCreated: metric.NewCounter(metric.CounterOpts{
			Name: "transfers_created",
			Help: "Number of transfers initiated from observed lock events",
		}),
		numTransfersSettled: metric.NewCounterVec(
			metric.CounterOpts{
				Name: "transfers_settled",
				Help: "Number of transfers reaching a terminal status",
			},
			statusLabels,
		),
		numAttestationsAccepted: metric.NewCounter(metric.CounterOpts{
			Name: "attestations_accepted",
			Help: "Number of attestations accepted into aggregation",
		}),
		numAttestationsRejected: metric.NewCounter(metric.CounterOpts{
			Name: "attestations_rejected",
			Help: "Number of attestations rejected",
		}),
		numEquivocations: metric.NewCounter(metric.CounterOpts{
			Name: "equivocations",
			Help: "Number of equivocations detected",
		}),
		numSlashEvents: metric.NewCounter(metric.CounterOpts{
			Name: "slash_events",
			Help: "Number of executed slash events",
		}),
		numMintSubmissions: metric.NewCounter(metric.CounterOpts{
			Name: "mint_submissions",
			Help: "Number of mint transactions submitted",
		}),
		numMintRetries: metric.NewCounter(metric.CounterOpts{
			Name: "mint_retries",
			Help: "Number of mint submission retries",
		}),
		numAlerts: metric.NewCounter(metric.CounterOpts{
			Name: "alerts",
			Help: "Number of operator alerts raised",
		}),
		pendingTransfers: metric.NewGauge(metric.GaugeOpts{
			Name: "pending_transfers",
			Help: "Number of transfers not yet settled",
		}),
		activeValidators: metric.NewGauge(metric.GaugeOpts{
			Name: "active_validators",
			Help: "Number of active validators in the registry",
		}),
	}
	return m, nil
}

func (m *metricsImpl) IncTransfersCreated() {
	m.numTransfersCreated.Inc()
}

func (m *metricsImpl) MarkTransferSettled(status string) {
	m.numTransfersSettled.With(metric.Labels{
		statusLabel: status,
	}).Inc()
}

func (m *metricsImpl) IncAttestationsAccepted() {
	m.numAttestationsAccepted.Inc()
}

func (m *metricsImpl) IncAttestationsRejected() {
	m.numAttestationsRejected.Inc()
}

func (m *metricsImpl) IncEquivocations() {
	m.numEquivocations.Inc()
}

func (m *metricsImpl) IncSlashEvents() {
	m.numSlashEvents.Inc()
}

func (m *metricsImpl) IncMintSubmissions() {
	m.numMintSubmissions.Inc()
}

func (m *metricsImpl) IncMintRetries() {
	m.numMintRetries.Inc()
}

func (m *metricsImpl) IncAlerts() {
	m.numAlerts.Inc()
}

func (m *metricsImpl) SetPendingTransfers(n int) {
	m.pendingTransfers.Set(float64(n))
}

func (m *metricsImpl) SetActiveValidators(n int) {
	m.activeValidators.Set(float64(n))
}
