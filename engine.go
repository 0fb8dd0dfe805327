// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bridge wires the validator registry, attestation aggregator,
// transfer state machine, slashing engine, fee calculator, and chain
// adapters into one cross-ledger transfer engine.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/bridge/attestation"
	"github.com/luxfi/bridge/chainadapter"
	"github.com/luxfi/bridge/config"
	"github.com/luxfi/bridge/fees"
	"github.com/luxfi/bridge/metrics"
	"github.com/luxfi/bridge/slashing"
	"github.com/luxfi/bridge/transfer"
	"github.com/luxfi/bridge/utils/timer/mockable"
	"github.com/luxfi/bridge/validators"
)

var (
	ErrPaused           = errors.New("bridge is paused")
	ErrNoAdapter        = errors.New("no adapter for chain")
	ErrAmountOutOfRange = errors.New("amount outside configured bounds")
	ErrFeeExceedsAmount = errors.New("fee exceeds transfer amount")
)

// defaultSweepInterval drives expiry, refund, confirmation, and
// dispute-window sweeps when Start runs the engine loop.
const defaultSweepInterval = 15 * time.Second

// Params configures an Engine.
type Params struct {
	Config config.Config
	Chains map[ids.ID]config.ChainConfig

	Adapters []chainadapter.Adapter
	DB       database.Database
	Oracle   fees.Oracle
	FeePair  string

	Alerter Alerter
	Metrics metrics.Metrics
	Clock   *mockable.Clock
	Log     log.Logger

	SweepInterval time.Duration
}

// Engine runs the bridge: it watches source chains for lock events,
// collects attestations to threshold, submits mints with the resulting
// proof bundles, and drives expiry and refund timeouts.
type Engine struct {
	cfg    config.Config
	chains map[ids.ID]config.ChainConfig

	registry   *validators.Registry
	aggregator *attestation.Aggregator
	state      *transfer.StateMachine
	slasher    *slashing.Engine
	calculator *fees.Calculator

	adapters   map[ids.ID]chainadapter.Adapter
	submitters map[ids.ID]*chainadapter.Submitter

	feePair string
	alerter Alerter
	metrics metrics.Metrics
	clock   *mockable.Clock
	log     log.Logger

	sweepInterval time.Duration

	mu      sync.RWMutex
	paused  bool
	stalled map[ids.ID]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New wires a bridge engine from its components.
func New(params Params) (*Engine, error) {
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	for chainID, chain := range params.Chains {
		if err := chain.Verify(); err != nil {
			return nil, fmt.Errorf("invalid chain config %s: %w", chainID, err)
		}
	}

	clock := params.Clock
	if clock == nil {
		clock = &mockable.Clock{}
	}
	logger := params.Log
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	alerter := params.Alerter
	if alerter == nil {
		alerter = NoOpAlerter{}
	}
	m := params.Metrics
	if m == nil {
		var err error
		if m, err = metrics.New(nil); err != nil {
			return nil, err
		}
	}
	sweepInterval := params.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}

	e := &Engine{
		cfg:           params.Config,
		chains:        params.Chains,
		adapters:      make(map[ids.ID]chainadapter.Adapter, len(params.Adapters)),
		submitters:    make(map[ids.ID]*chainadapter.Submitter, len(params.Adapters)),
		feePair:       params.FeePair,
		alerter:       alerter,
		metrics:       m,
		clock:         clock,
		log:           logger,
		sweepInterval: sweepInterval,
		stalled:       make(map[ids.ID]struct{}),
	}

	e.registry = validators.NewRegistry(validators.RegistryParams{
		MinStake:            params.Config.MinStake,
		MinReputation:       params.Config.MinReputation,
		MinActiveValidators: params.Config.MinActiveValidators,
		ExitCooldown:        params.Config.ExitCooldown,
		Clock:               clock,
		Log:                 logger,
	})

	e.slasher = slashing.NewEngine(slashing.Params{
		Registry:         e.registry,
		SlashBasisPoints: params.Config.SlashBasisPoints,
		DisputeWindow:    params.Config.DisputeWindow,
		OnDispute:        e.holdDisputedTransfer,
		OnResolve:        e.resumeDisputedTransfer,
		Clock:            clock,
		Log:              logger,
	})

	e.aggregator = attestation.NewAggregator(attestation.AggregatorParams{
		Eligibility:    e.registry,
		OnEquivocation: e.handleEquivocation,
		Clock:          clock,
		Log:            logger,
	})

	replay := transfer.NewReplayGuard(prefixdb.New([]byte("replay"), params.DB), logger)
	e.state = transfer.NewStateMachine(transfer.StateMachineParams{
		DB:          prefixdb.New([]byte("transfers"), params.DB),
		ReplayGuard: replay,
		RefundGrace: params.Config.RefundGracePeriod,
		Clock:       clock,
		Log:         logger,
	})

	e.calculator = fees.NewCalculator(fees.CalculatorParams{
		BaseFee:         params.Config.BaseFee,
		Oracle:          params.Oracle,
		StalenessCutoff: params.Config.OracleStalenessCutoff,
		FiatMinimum:     fiatBound(params.Config.FiatMinimum),
		FiatMaximum:     fiatBound(params.Config.FiatMaximum),
		Clock:           clock,
		Log:             logger,
	})

	for _, adapter := range params.Adapters {
		chainID := adapter.ChainID()
		if _, ok := params.Chains[chainID]; !ok {
			return nil, fmt.Errorf("%w: adapter for %s", config.ErrUnknownChain, chainID)
		}
		e.adapters[chainID] = adapter
		e.submitters[chainID] = chainadapter.NewSubmitter(
			adapter,
			params.Config.SubmitRetries,
			params.Config.SubmitRetryWait,
			logger,
		)
	}
	return e, nil
}

// Registry exposes the validator registry for registration and exit
// flows driven through governance.
func (e *Engine) Registry() *validators.Registry { return e.registry }

// Slasher exposes the slashing engine for evidence submission.
func (e *Engine) Slasher() *slashing.Engine { return e.slasher }

// State exposes the transfer state machine read paths.
func (e *Engine) State() *transfer.StateMachine { return e.state }

// Start launches the per-chain watch loops and the sweep loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	for chainID, adapter := range e.adapters {
		chain := e.chains[chainID]
		if chain.Role != config.RoleSource {
			continue
		}
		e.wg.Add(1)
		go e.watchChain(ctx, adapter)
	}

	e.wg.Add(1)
	go e.sweepLoop(ctx)

	e.log.Info("bridge engine started",
		log.Int("chains", len(e.adapters)),
		log.Int("validators", e.registry.Len()),
	)
}

// Stop halts the engine loops and waits for them to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.log.Info("bridge engine stopped")
}

// Pause halts intake of new lock events. In-flight transfers keep
// settling.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	e.log.Warn("bridge paused")
}

// Unpause resumes lock event intake.
func (e *Engine) Unpause() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.log.Info("bridge unpaused")
}

// Paused reports whether lock intake is halted.
func (e *Engine) Paused() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.paused
}

func (e *Engine) watchChain(ctx context.Context, adapter chainadapter.Adapter) {
	defer e.wg.Done()

	chainID := adapter.ChainID()
	events, err := adapter.SubscribeLocks(ctx)
	if err != nil {
		e.log.Error("lock subscription failed",
			log.Stringer("chainID", chainID),
			log.Err(err),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := e.HandleLock(event); err != nil {
				e.log.Debug("lock event dropped",
					log.Stringer("chainID", chainID),
					log.Uint64("nonce", event.Nonce),
					log.Err(err),
				)
			}
		}
	}
}

// HandleLock admits a confirmed lock event: it creates the transfer,
// marks it Confirmed, and opens attestation collection against the
// destination chain's threshold.
func (e *Engine) HandleLock(event chainadapter.LockEvent) error {
	if e.Paused() {
		return ErrPaused
	}

	chain, ok := e.chains[event.SourceChain]
	if !ok {
		return fmt.Errorf("%w: %s", config.ErrUnknownChain, event.SourceChain)
	}
	if !chain.CheckAmount(event.Amount) {
		return fmt.Errorf("%w: %d not in [%d, %d]",
			ErrAmountOutOfRange, event.Amount, chain.MinAmount, chain.MaxAmount)
	}
	dest, ok := e.chains[event.DestChain]
	if !ok {
		return fmt.Errorf("%w: %s", config.ErrUnknownChain, event.DestChain)
	}
	if dest.Role != config.RoleDestination {
		return fmt.Errorf("%w: %s cannot receive mints", config.ErrInvalidChainRole, event.DestChain)
	}

	t, err := e.state.Create(
		event.SourceChain,
		event.DestChain,
		event.Sender,
		event.Recipient,
		event.Amount,
		event.Nonce,
		e.cfg.ValidationTimeout,
	)
	if err != nil {
		return err
	}
	e.metrics.IncTransfersCreated()

	// The adapter withheld the event until the configured confirmation
	// depth, so the transfer confirms immediately.
	if err := e.state.Transition(t.ID, transfer.StatusConfirmed); err != nil {
		return err
	}

	threshold := e.attestationThreshold(t.DestChain)
	if err := e.aggregator.Track(t.Payload(), threshold, t.ExpiresAt); err != nil {
		return err
	}
	return e.state.Transition(t.ID, transfer.StatusAttesting)
}

// SubmitAttestation verifies and counts one validator attestation.
// Reaching the threshold finalizes the transfer and submits the mint.
// Attestations referencing a transfer that already settled or expired
// are idempotent no-ops.
func (e *Engine) SubmitAttestation(ctx context.Context, att *attestation.Attestation) error {
	if status, settled := e.state.Settled(att.TransferID); settled {
		e.log.Debug("attestation dropped for settled transfer",
			log.Stringer("transferID", att.TransferID),
			log.Stringer("validatorID", att.ValidatorID),
			log.Stringer("settledStatus", status),
		)
		return nil
	}

	outcome, bundle, err := e.aggregator.Add(att)
	if err != nil {
		e.metrics.IncAttestationsRejected()
		return err
	}

	switch outcome {
	case attestation.OutcomeDuplicate:
		return nil
	case attestation.OutcomeAccepted, attestation.OutcomeThreshold:
		e.metrics.IncAttestationsAccepted()
		if err := e.registry.RecordCorrectAttestation(att.ValidatorID); err != nil {
			e.log.Debug("attestor reputation update failed",
				log.Stringer("validatorID", att.ValidatorID),
				log.Err(err),
			)
		}
		if err := e.state.AttachAttestation(att.TransferID, att); err != nil {
			return err
		}
	}

	if outcome != attestation.OutcomeThreshold {
		return nil
	}
	return e.finalize(ctx, att.TransferID, bundle)
}

// finalize moves a threshold-complete transfer to Finalized and
// submits the mint on the destination chain, net of the bridge fee.
// Completion waits for the destination confirmation sweep.
func (e *Engine) finalize(ctx context.Context, transferID ids.ID, bundle *attestation.ProofBundle) error {
	t, err := e.state.Get(transferID)
	if err != nil {
		return err
	}
	fee, err := e.calculator.Fee(t.Amount, e.chains[t.SourceChain].FeeBasisPoints)
	if err != nil {
		return err
	}
	if fee >= t.Amount {
		return fmt.Errorf("%w: fee %d on amount %d", ErrFeeExceedsAmount, fee, t.Amount)
	}
	if err := e.state.Transition(transferID, transfer.StatusFinalized); err != nil {
		return err
	}

	submitter, ok := e.submitters[t.DestChain]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoAdapter, t.DestChain)
	}
	txID, err := submitter.SubmitMint(ctx, transferID, bundle, t.Amount-fee)
	if err != nil {
		e.alert(Alert{
			Type:        AlertSubmitFailed,
			TransferID:  transferID,
			Amount:      t.Amount,
			Description: err.Error(),
		})
		return err
	}
	e.metrics.IncMintSubmissions()
	return e.state.SetMintTx(transferID, txID, fee)
}

// QuoteFee prices a transfer on the given source chain. A stale oracle
// pauses quoting and raises an alert without touching settlement.
func (e *Engine) QuoteFee(chainID ids.ID, amount uint64) (fees.Quote, error) {
	chain, ok := e.chains[chainID]
	if !ok {
		return fees.Quote{}, fmt.Errorf("%w: %s", config.ErrUnknownChain, chainID)
	}
	quote, err := e.calculator.Quote(e.feePair, amount, chain.FeeBasisPoints)
	if errors.Is(err, fees.ErrOracleStale) {
		e.alert(Alert{
			Type:        AlertOracleStale,
			Amount:      amount,
			Description: err.Error(),
		})
	}
	return quote, err
}

// Sweep runs one pass of the timeout machinery: expiry, refunds,
// destination confirmations, aged-out slashing cases, and reputation
// decay. Start drives it on a ticker; tests call it directly.
func (e *Engine) Sweep(ctx context.Context) {
	e.sweepExpired()
	e.sweepRefunds(ctx)
	e.sweepConfirmations(ctx)
	e.sweepSlashing()
	e.registry.ApplyDecay()

	e.metrics.SetPendingTransfers(len(e.state.Pending()))
	e.metrics.SetActiveValidators(e.registry.ActiveCount())
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

func (e *Engine) sweepExpired() {
	for _, transferID := range e.state.ExpireDue() {
		count := e.aggregator.Close(transferID)
		t, err := e.state.Get(transferID)
		if err != nil {
			continue
		}
		e.alert(Alert{
			Type:        AlertTransferExpired,
			TransferID:  transferID,
			Amount:      t.Amount,
			Description: fmt.Sprintf("expired with %d attestations", count),
		})
	}
}

func (e *Engine) sweepRefunds(ctx context.Context) {
	for _, t := range e.state.RefundDue() {
		submitter, ok := e.submitters[t.SourceChain]
		if !ok {
			continue
		}
		if _, err := submitter.SubmitRefund(ctx, t.ID, t.Sender, t.Amount); err != nil {
			e.alert(Alert{
				Type:        AlertSubmitFailed,
				TransferID:  t.ID,
				Amount:      t.Amount,
				Description: err.Error(),
			})
			continue
		}
		if err := e.state.Transition(t.ID, transfer.StatusRefunded); err != nil {
			e.log.Error("refund transition failed",
				log.Stringer("transferID", t.ID),
				log.Err(err),
			)
			continue
		}
		e.metrics.MarkTransferSettled(transfer.StatusRefunded.String())
	}
}

// sweepConfirmations completes Finalized transfers whose mint reached
// the destination confirmation depth. A Finalized transfer that is
// still unconfirmed past its deadline plus the refund grace period is
// escalated to the operator once; it is never silently abandoned.
func (e *Engine) sweepConfirmations(ctx context.Context) {
	now := e.clock.Time()
	for _, t := range e.state.Pending() {
		if t.Status != transfer.StatusFinalized {
			continue
		}

		confirmed := false
		if t.MintTxID != ids.Empty {
			if adapter, ok := e.adapters[t.DestChain]; ok {
				if depth, err := adapter.Confirmations(ctx, t.MintTxID); err == nil {
					confirmed = depth >= e.chains[t.DestChain].ConfirmationsRequired
				}
			}
		}

		if confirmed {
			if err := e.state.Transition(t.ID, transfer.StatusCompleted); err != nil {
				e.log.Error("completion transition failed",
					log.Stringer("transferID", t.ID),
					log.Err(err),
				)
				continue
			}
			e.metrics.MarkTransferSettled(transfer.StatusCompleted.String())
			e.mu.Lock()
			delete(e.stalled, t.ID)
			e.mu.Unlock()
			continue
		}

		if now.After(t.ExpiresAt.Add(e.cfg.RefundGracePeriod)) {
			e.escalateStalledMint(t)
		}
	}
}

func (e *Engine) escalateStalledMint(t transfer.Transfer) {
	e.mu.Lock()
	if _, ok := e.stalled[t.ID]; ok {
		e.mu.Unlock()
		return
	}
	e.stalled[t.ID] = struct{}{}
	e.mu.Unlock()

	e.alert(Alert{
		Type:        AlertMintStalled,
		TransferID:  t.ID,
		Amount:      t.Amount,
		Description: fmt.Sprintf("mint %s unconfirmed past %s", t.MintTxID, t.ExpiresAt.Add(e.cfg.RefundGracePeriod)),
	})
}

func (e *Engine) sweepSlashing() {
	for _, event := range e.slasher.FinalizeDue() {
		e.metrics.IncSlashEvents()
		e.alert(Alert{
			Type:        AlertValidatorSlashed,
			Amount:      event.AmountSlashed,
			Description: fmt.Sprintf("%s slashed for %s", event.ValidatorID, event.Reason),
		})
	}
}

// handleEquivocation slashes a validator immediately on proof of two
// conflicting signed payloads. Installed as the aggregator's
// equivocation callback.
func (e *Engine) handleEquivocation(nodeID ids.NodeID, transferID ids.ID, first, second *attestation.Attestation) {
	if first == nil || second == nil {
		e.log.Error("equivocation report missing a signed attestation",
			log.Stringer("validatorID", nodeID),
			log.Stringer("transferID", transferID),
		)
		return
	}
	e.metrics.IncEquivocations()

	event, err := e.slasher.ReportEquivocation(nodeID, transferID)
	if err != nil {
		e.log.Error("equivocation slash failed",
			log.Stringer("validatorID", nodeID),
			log.Stringer("transferID", transferID),
			log.Err(err),
		)
		return
	}
	e.metrics.IncSlashEvents()

	// The equivocator's earlier attestation no longer counts
	e.aggregator.StripAttestor(transferID, nodeID)

	e.alert(Alert{
		Type:        AlertEquivocation,
		TransferID:  transferID,
		Amount:      event.AmountSlashed,
		Description: fmt.Sprintf("validator %s equivocated", nodeID),
	})
}

// holdDisputedTransfer parks a pending transfer in Disputed while a
// slashing case implicating one of its attestors is open. Installed as
// the slashing engine's dispute hook.
func (e *Engine) holdDisputedTransfer(transferID ids.ID, validatorID ids.NodeID) {
	if err := e.state.Transition(transferID, transfer.StatusDisputed); err != nil {
		e.log.Debug("transfer not held for dispute",
			log.Stringer("transferID", transferID),
			log.Err(err),
		)
		return
	}
	e.aggregator.StripAttestor(transferID, validatorID)
}

// resumeDisputedTransfer releases a transfer once the slashing case
// that parked it closed. Installed as the slashing engine's resolve
// hook.
func (e *Engine) resumeDisputedTransfer(transferID ids.ID, upheld bool) {
	if err := e.state.ResolveDispute(transferID); err != nil {
		e.log.Debug("disputed transfer not resumed",
			log.Stringer("transferID", transferID),
			log.Bool("upheld", upheld),
			log.Err(err),
		)
	}
}

func (e *Engine) attestationThreshold(destChain ids.ID) int {
	if chain, ok := e.chains[destChain]; ok {
		return chain.AttestationThreshold
	}
	return 1
}

func (e *Engine) alert(a Alert) {
	e.metrics.IncAlerts()
	e.alerter.AlertTriggered(a)
}

func fiatBound(v uint64) *big.Int {
	if v == 0 {
		return nil
	}
	return new(big.Int).SetUint64(v)
}
