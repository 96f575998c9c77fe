package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/chainflow/types"
)

func seedChainTx(t *testing.T, s *Store) (*ChainTransaction, *TransactionAttempt) {
	t.Helper()
	exec, _ := seedExecution(t, s, "pay")
	tx := &ChainTransaction{
		ID:          uuid.NewString(),
		ExecutionID: exec.ID,
		NodeID:      "pay",
		ChainID:     1,
		ToAddress:   "0xdeadbeef",
		Value:       "1000000000000000000",
		Nonce:       7,
		Status:      TxStatusSubmitted,
	}
	first := &TransactionAttempt{
		ID: uuid.NewString(),
		// tx_hash carries a unique index, every seeded attempt needs
		// its own
		TxHash:      "0x" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		GasPrice:    "20000000000",
		Status:      AttemptStatusPending,
		SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateChainTransaction(context.Background(), tx, first))
	return tx, first
}

func TestChainTransactionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	tx, first := seedChainTx(t, s)
	ctx := context.Background()

	got, err := s.GetChainTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, TxStatusSubmitted, got.Status)
	require.Len(t, got.Attempts, 1)
	assert.Equal(t, first.TxHash, got.Attempts[0].TxHash)

	byHash, err := s.ChainTransactionByHash(ctx, first.TxHash)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, byHash.ID)

	_, err = s.ChainTransactionByHash(ctx, "0xnope")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestAddAttemptReplacesPending(t *testing.T) {
	s := openTestStore(t)
	tx, first := seedChainTx(t, s)
	ctx := context.Background()

	bumped := &TransactionAttempt{
		ID:          uuid.NewString(),
		TxHash:      "0xbbb",
		GasPrice:    "30000000000",
		SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, s.AddAttempt(ctx, tx.ID, bumped))

	got, err := s.GetChainTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, got.Attempts, 2)

	byHash := map[string]string{}
	for _, a := range got.Attempts {
		byHash[a.TxHash] = a.Status
	}
	assert.Equal(t, AttemptStatusReplaced, byHash[first.TxHash])
	assert.Equal(t, AttemptStatusPending, byHash["0xbbb"])

	// exactly one pending attempt survives the bump
	pending, err := s.PendingAttempt(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xbbb", pending.TxHash)
}

func TestSettleAttempt(t *testing.T) {
	s := openTestStore(t)
	tx, first := seedChainTx(t, s)
	ctx := context.Background()

	require.NoError(t, s.SettleAttempt(ctx, first.ID, true, 123456, 21000))

	got, err := s.GetChainTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, TxStatusConfirmed, got.Status)
	require.Len(t, got.Attempts, 1)
	assert.Equal(t, AttemptStatusMined, got.Attempts[0].Status)
	require.NotNil(t, got.Attempts[0].BlockNumber)
	assert.EqualValues(t, 123456, *got.Attempts[0].BlockNumber)

	// settling twice is a state error
	err = s.SettleAttempt(ctx, first.ID, true, 123456, 21000)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidState, types.GetErrorCode(err))

	_, err = s.PendingAttempt(ctx, tx.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestSettleReplacedAttempt(t *testing.T) {
	s := openTestStore(t)
	tx, first := seedChainTx(t, s)
	ctx := context.Background()

	bumped := &TransactionAttempt{
		ID:          uuid.NewString(),
		TxHash:      "0x" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		GasPrice:    "30000000000",
		SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, s.AddAttempt(ctx, tx.ID, bumped))

	// the replaced original wins the nonce race against its bump
	require.NoError(t, s.SettleAttempt(ctx, first.ID, true, 99, 21000))

	got, err := s.GetChainTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, TxStatusConfirmed, got.Status)

	byHash := map[string]string{}
	for _, a := range got.Attempts {
		byHash[a.TxHash] = a.Status
	}
	assert.Equal(t, AttemptStatusMined, byHash[first.TxHash])
	assert.Equal(t, AttemptStatusReplaced, byHash[bumped.TxHash], "the losing broadcast can never mine")
}

func TestSettleAttemptFailureFailsTransaction(t *testing.T) {
	s := openTestStore(t)
	tx, first := seedChainTx(t, s)
	ctx := context.Background()

	require.NoError(t, s.SettleAttempt(ctx, first.ID, false, 123457, 21000))

	got, err := s.GetChainTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, TxStatusFailed, got.Status)
}

func TestListUnsettledTransactions(t *testing.T) {
	s := openTestStore(t)
	txA, attemptA := seedChainTx(t, s)
	txB, _ := seedChainTx(t, s)
	ctx := context.Background()

	require.NoError(t, s.SettleAttempt(ctx, attemptA.ID, true, 1, 21000))

	unsettled, err := s.ListUnsettledTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	assert.Equal(t, txB.ID, unsettled[0].ID)
	assert.NotEqual(t, txA.ID, unsettled[0].ID)
}
