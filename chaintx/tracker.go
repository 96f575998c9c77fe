package chaintx

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/chainflow/blocks"
	"github.com/BaSui01/chainflow/events"
	"github.com/BaSui01/chainflow/retry"
	"github.com/BaSui01/chainflow/store"
	"github.com/BaSui01/chainflow/types"
)

// Resumer wakes the execution waiting on a key. Satisfied by
// pause.Manager.
type Resumer interface {
	ResumeByWaitKey(ctx context.Context, waitKey string, resumeData map[string]any) (string, error)
}

// Config tunes the tracker.
type Config struct {
	// Account is the node-managed sender address.
	Account string `yaml:"account" json:"account"`
	// ConfirmInterval is how often unsettled transactions are polled.
	ConfirmInterval time.Duration `yaml:"confirm_interval" json:"confirm_interval"`
	// GasBumpAfter is how long an attempt may stay unmined before it is
	// rebroadcast with a higher gas price.
	GasBumpAfter time.Duration `yaml:"gas_bump_after" json:"gas_bump_after"`
	// GasBumpPercent is the price increase per bump.
	GasBumpPercent int64 `yaml:"gas_bump_percent" json:"gas_bump_percent"`
	// MaxGasBumps caps rebroadcasts; after that the tracker keeps
	// polling the existing attempts without spending more.
	MaxGasBumps int `yaml:"max_gas_bumps" json:"max_gas_bumps"`
}

func DefaultConfig() Config {
	return Config{
		ConfirmInterval: 15 * time.Second,
		GasBumpAfter:    2 * time.Minute,
		GasBumpPercent:  15,
		MaxGasBumps:     3,
	}
}

// Tracker owns transaction state from broadcast to terminal receipt.
type Tracker struct {
	store   *store.Store
	client  Client
	resumer Resumer
	bus     *events.Bus
	config  Config
	retryer retry.Retryer
	logger  *zap.Logger
}

func NewTracker(st *store.Store, client Client, resumer Resumer, bus *events.Bus, config Config, logger *zap.Logger) *Tracker {
	if config.ConfirmInterval <= 0 {
		config.ConfirmInterval = 15 * time.Second
	}
	if config.GasBumpAfter <= 0 {
		config.GasBumpAfter = 2 * time.Minute
	}
	if config.GasBumpPercent <= 0 {
		config.GasBumpPercent = 15
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:   st,
		client:  client,
		resumer: resumer,
		bus:     bus,
		config:  config,
		retryer: retry.NewBackoffRetryer(&retry.Policy{
			MaxRetries:   3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		}, logger),
		logger: logger.With(zap.String("component", "chaintx")),
	}
}

// SubmitTransaction broadcasts a new transaction and records it with
// its first attempt. It implements the submitter the chain_tx block
// depends on; the returned hash is the one the execution will wait on.
func (t *Tracker) SubmitTransaction(ctx context.Context, req blocks.TxRequest) (string, error) {
	value, ok := new(big.Int).SetString(req.Value, 10)
	if !ok {
		return "", types.NewError(types.ErrInvalidRequest, "bad transaction value: "+req.Value)
	}

	var nonce uint64
	var gasPrice *big.Int
	err := t.retryer.Do(ctx, func() error {
		var err error
		if nonce, err = t.client.PendingNonce(ctx, t.config.Account); err != nil {
			return err
		}
		gasPrice, err = t.client.GasPrice(ctx)
		return err
	})
	if err != nil {
		return "", err
	}

	var hash string
	err = t.retryer.Do(ctx, func() error {
		var err error
		hash, err = t.client.SendTransaction(ctx, TxParams{
			From:     t.config.Account,
			To:       req.To,
			Value:    value,
			Data:     req.Data,
			Nonce:    nonce,
			GasPrice: gasPrice,
		})
		return err
	})
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	tx := &store.ChainTransaction{
		ID:          uuid.NewString(),
		ExecutionID: req.ExecutionID,
		NodeID:      req.NodeID,
		ChainID:     req.ChainID,
		ToAddress:   req.To,
		Value:       req.Value,
		Data:        req.Data,
		Nonce:       nonce,
		Status:      store.TxStatusSubmitted,
	}
	first := &store.TransactionAttempt{
		ID:          uuid.NewString(),
		TxHash:      hash,
		GasPrice:    gasPrice.String(),
		Status:      store.AttemptStatusPending,
		SubmittedAt: now,
	}
	if err := t.store.CreateChainTransaction(ctx, tx, first); err != nil {
		return "", err
	}

	t.logger.Info("transaction broadcast",
		zap.String("tx_hash", hash),
		zap.String("execution_id", req.ExecutionID),
		zap.Uint64("nonce", nonce),
		zap.String("gas_price", gasPrice.String()))

	t.publish(ctx, events.Event{
		Type:        events.TxSubmitted,
		ExecutionID: req.ExecutionID,
		NodeID:      req.NodeID,
		Payload: map[string]any{
			"tx_hash":   hash,
			"nonce":     nonce,
			"gas_price": gasPrice.String(),
		},
	})
	return hash, nil
}

// Run polls unsettled transactions until the context ends. Restart-safe:
// state lives in the store, so a fresh process picks up where the dead
// one stopped.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.config.ConfirmInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.CheckOnce(ctx)
		}
	}
}

// CheckOnce settles or bumps every unsettled transaction one time.
func (t *Tracker) CheckOnce(ctx context.Context) {
	txs, err := t.store.ListUnsettledTransactions(ctx)
	if err != nil {
		t.logger.Error("listing unsettled transactions failed", zap.Error(err))
		return
	}
	for i := range txs {
		if err := t.checkTransaction(ctx, &txs[i]); err != nil {
			t.logger.Warn("transaction check failed",
				zap.String("transaction_id", txs[i].ID), zap.Error(err))
		}
	}
}

func (t *Tracker) checkTransaction(ctx context.Context, tx *store.ChainTransaction) error {
	// every broadcast shares the nonce, so any of them can mine: a
	// replaced original racing its bump included. Poll all attempts
	// that are not terminally settled.
	var pending *store.TransactionAttempt
	for i := range tx.Attempts {
		attempt := &tx.Attempts[i]
		if attempt.Status == store.AttemptStatusMined || attempt.Status == store.AttemptStatusFailed {
			continue
		}
		if attempt.Status == store.AttemptStatusPending {
			pending = attempt
		}
		receipt, err := t.client.Receipt(ctx, attempt.TxHash)
		if err != nil {
			return err
		}
		if receipt != nil {
			return t.settle(ctx, tx, attempt, receipt)
		}
	}
	if pending == nil {
		return nil
	}

	// unmined; bump gas when the newest broadcast is stale and budget
	// remains
	if time.Since(pending.SubmittedAt) >= t.config.GasBumpAfter &&
		len(tx.Attempts) <= t.config.MaxGasBumps {
		return t.bumpGas(ctx, tx, pending)
	}
	return nil
}

func (t *Tracker) settle(ctx context.Context, tx *store.ChainTransaction, attempt *store.TransactionAttempt, receipt *Receipt) error {
	if err := t.store.SettleAttempt(ctx, attempt.ID, receipt.Ok, receipt.BlockNumber, receipt.GasUsed); err != nil {
		return err
	}

	status := "confirmed"
	eventType := events.TxConfirmed
	if !receipt.Ok {
		status = "failed"
		eventType = events.TxFailed
	}

	t.logger.Info("transaction settled",
		zap.String("tx_hash", attempt.TxHash),
		zap.String("status", status),
		zap.Uint64("block_number", receipt.BlockNumber))

	t.publish(ctx, events.Event{
		Type:        eventType,
		ExecutionID: tx.ExecutionID,
		NodeID:      tx.NodeID,
		Payload: map[string]any{
			"tx_hash":      attempt.TxHash,
			"block_number": receipt.BlockNumber,
			"gas_used":     receipt.GasUsed,
			"status":       status,
		},
	})

	// the execution waits on the hash its block submitted: the first
	// broadcast, not the latest bump
	waitKey := "tx:" + originalHash(tx, attempt)
	_, err := t.resumer.ResumeByWaitKey(ctx, waitKey, map[string]any{
		"tx_hash":      attempt.TxHash,
		"block_number": receipt.BlockNumber,
		"gas_used":     receipt.GasUsed,
		"status":       status,
	})
	if err != nil && types.GetErrorCode(err) != types.ErrNotFound {
		return err
	}
	return nil
}

func (t *Tracker) bumpGas(ctx context.Context, tx *store.ChainTransaction, stale *store.TransactionAttempt) error {
	oldPrice, ok := new(big.Int).SetString(stale.GasPrice, 10)
	if !ok {
		return types.NewError(types.ErrInternalError, "bad stored gas price: "+stale.GasPrice)
	}
	bump := new(big.Int).Mul(oldPrice, big.NewInt(100+t.config.GasBumpPercent))
	newPrice := bump.Div(bump, big.NewInt(100))

	value, _ := new(big.Int).SetString(tx.Value, 10)
	hash, err := t.client.SendTransaction(ctx, TxParams{
		From:     t.config.Account,
		To:       tx.ToAddress,
		Value:    value,
		Data:     tx.Data,
		Nonce:    tx.Nonce, // same nonce replaces the stale broadcast
		GasPrice: newPrice,
	})
	if err != nil {
		return err
	}

	attempt := &store.TransactionAttempt{
		ID:          uuid.NewString(),
		TxHash:      hash,
		GasPrice:    newPrice.String(),
		SubmittedAt: time.Now().UTC(),
	}
	if err := t.store.AddAttempt(ctx, tx.ID, attempt); err != nil {
		return err
	}

	t.logger.Info("gas bumped",
		zap.String("transaction_id", tx.ID),
		zap.String("old_hash", stale.TxHash),
		zap.String("new_hash", hash),
		zap.String("new_gas_price", newPrice.String()))

	t.publish(ctx, events.Event{
		Type:        events.TxSubmitted,
		ExecutionID: tx.ExecutionID,
		NodeID:      tx.NodeID,
		Payload: map[string]any{
			"tx_hash":   hash,
			"replaces":  stale.TxHash,
			"gas_price": newPrice.String(),
			"attempt":   len(tx.Attempts) + 1,
		},
	})
	return nil
}

// originalHash returns the hash of the earliest broadcast, which is the
// hash the waiting block received.
func originalHash(tx *store.ChainTransaction, fallback *store.TransactionAttempt) string {
	if len(tx.Attempts) == 0 {
		return fallback.TxHash
	}
	earliest := tx.Attempts[0]
	for _, a := range tx.Attempts[1:] {
		if a.SubmittedAt.Before(earliest.SubmittedAt) {
			earliest = a
		}
	}
	return earliest.TxHash
}

func (t *Tracker) publish(ctx context.Context, evt events.Event) {
	if t.bus == nil {
		return
	}
	if err := t.bus.Publish(ctx, evt); err != nil {
		t.logger.Warn("event publish failed", zap.Error(err))
	}
}
