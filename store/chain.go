package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/chainflow/types"
)

// CreateChainTransaction persists a transaction and its first attempt
// atomically.
func (s *Store) CreateChainTransaction(ctx context.Context, tx *ChainTransaction, first *TransactionAttempt) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Create(tx).Error; err != nil {
			return storeErr("create chain transaction", err)
		}
		first.TransactionID = tx.ID
		if err := db.Create(first).Error; err != nil {
			return storeErr("create transaction attempt", err)
		}
		return nil
	})
}

// GetChainTransaction loads a transaction with all its attempts.
func (s *Store) GetChainTransaction(ctx context.Context, id string) (*ChainTransaction, error) {
	var tx ChainTransaction
	err := s.db.WithContext(ctx).Preload("Attempts").First(&tx, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, "chain transaction not found: "+id)
	}
	if err != nil {
		return nil, storeErr("get chain transaction", err)
	}
	return &tx, nil
}

// ChainTransactionByHash resolves a transaction from any of its attempt
// hashes.
func (s *Store) ChainTransactionByHash(ctx context.Context, txHash string) (*ChainTransaction, error) {
	var attempt TransactionAttempt
	err := s.db.WithContext(ctx).First(&attempt, "tx_hash = ?", txHash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, "no transaction attempt with hash "+txHash)
	}
	if err != nil {
		return nil, storeErr("get transaction by hash", err)
	}
	return s.GetChainTransaction(ctx, attempt.TransactionID)
}

// AddAttempt records a gas-bumped rebroadcast: the still-pending attempt
// is marked replaced and the new one becomes the single pending attempt,
// in one transaction.
func (s *Store) AddAttempt(ctx context.Context, transactionID string, attempt *TransactionAttempt) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		err := db.Model(&TransactionAttempt{}).
			Where("transaction_id = ? AND status = ?", transactionID, AttemptStatusPending).
			Update("status", AttemptStatusReplaced).Error
		if err != nil {
			return storeErr("replace pending attempt", err)
		}

		attempt.TransactionID = transactionID
		attempt.Status = AttemptStatusPending
		if err := db.Create(attempt).Error; err != nil {
			return storeErr("create transaction attempt", err)
		}
		return nil
	})
}

// PendingAttempt returns the single non-terminal attempt of a
// transaction, or NOT_FOUND when every attempt is settled.
func (s *Store) PendingAttempt(ctx context.Context, transactionID string) (*TransactionAttempt, error) {
	var attempt TransactionAttempt
	err := s.db.WithContext(ctx).
		Where("transaction_id = ? AND status = ?", transactionID, AttemptStatusPending).
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, "transaction "+transactionID+" has no pending attempt")
	}
	if err != nil {
		return nil, storeErr("get pending attempt", err)
	}
	return &attempt, nil
}

// SettleAttempt marks an attempt mined or failed and moves its parent
// transaction to the matching terminal status. A replaced attempt can
// still settle: the original broadcast may win the race against its
// gas bump, they share the nonce.
func (s *Store) SettleAttempt(ctx context.Context, attemptID string, success bool, blockNumber, gasUsed uint64) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var attempt TransactionAttempt
		if err := db.First(&attempt, "id = ?", attemptID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NewError(types.ErrNotFound, "transaction attempt not found: "+attemptID)
			}
			return storeErr("get transaction attempt", err)
		}
		if attempt.Status == AttemptStatusMined || attempt.Status == AttemptStatusFailed {
			return types.NewError(types.ErrInvalidState, "attempt "+attemptID+" is already settled")
		}

		now := time.Now().UTC()
		attemptStatus := AttemptStatusMined
		txStatus := TxStatusConfirmed
		if !success {
			attemptStatus = AttemptStatusFailed
			txStatus = TxStatusFailed
		}

		err := db.Model(&TransactionAttempt{}).
			Where("id = ?", attemptID).
			Updates(map[string]any{
				"status":       attemptStatus,
				"block_number": blockNumber,
				"gas_used":     gasUsed,
				"mined_at":     &now,
			}).Error
		if err != nil {
			return storeErr("settle attempt", err)
		}

		// sibling broadcasts can never mine once the nonce is spent
		err = db.Model(&TransactionAttempt{}).
			Where("transaction_id = ? AND id <> ? AND status = ?",
				attempt.TransactionID, attemptID, AttemptStatusPending).
			Update("status", AttemptStatusReplaced).Error
		if err != nil {
			return storeErr("settle attempt", err)
		}

		return db.Model(&ChainTransaction{}).
			Where("id = ?", attempt.TransactionID).
			Updates(map[string]any{"status": txStatus, "updated_at": now}).Error
	})
}

// ListUnsettledTransactions returns submitted transactions still waiting
// for a confirmation. The tracker polls these after a restart.
func (s *Store) ListUnsettledTransactions(ctx context.Context) ([]ChainTransaction, error) {
	var txs []ChainTransaction
	err := s.db.WithContext(ctx).Preload("Attempts").
		Where("status = ?", TxStatusSubmitted).
		Find(&txs).Error
	if err != nil {
		return nil, storeErr("list unsettled transactions", err)
	}
	return txs, nil
}
