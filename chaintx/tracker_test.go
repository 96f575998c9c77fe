package chaintx

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/chainflow/blocks"
	"github.com/BaSui01/chainflow/events"
	"github.com/BaSui01/chainflow/pause"
	"github.com/BaSui01/chainflow/store"
	"github.com/BaSui01/chainflow/types"
)

// fakeClient is a scriptable EVM node.
type fakeClient struct {
	mu       sync.Mutex
	nonce    uint64
	gasPrice *big.Int
	receipts map[string]*Receipt
	sent     []TxParams
	sendErr  error
	hashSeq  int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		nonce:    7,
		gasPrice: big.NewInt(20_000_000_000),
		receipts: map[string]*Receipt{},
	}
}

func (c *fakeClient) PendingNonce(context.Context, string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonce, nil
}

func (c *fakeClient) GasPrice(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.gasPrice), nil
}

func (c *fakeClient) SendTransaction(_ context.Context, tx TxParams) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.sent = append(c.sent, tx)
	c.hashSeq++
	return "0xhash" + string(rune('0'+c.hashSeq)), nil
}

func (c *fakeClient) Receipt(_ context.Context, hash string) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receipts[hash], nil
}

func (c *fakeClient) mine(hash string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[hash] = &Receipt{TxHash: hash, BlockNumber: 100, GasUsed: 21000, Ok: ok}
}

func setup(t *testing.T) (*Tracker, *store.Store, *pause.Manager, *fakeClient) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	st := store.New(db, zap.NewNop())
	require.NoError(t, st.AutoMigrate())

	bus := events.NewBus(zap.NewNop())
	t.Cleanup(func() { bus.Close() })

	pm := pause.NewManager(st, bus, zap.NewNop())
	client := newFakeClient()
	cfg := Config{
		Account:         "0xsender",
		ConfirmInterval: 10 * time.Millisecond,
		GasBumpAfter:    50 * time.Millisecond,
		GasBumpPercent:  15,
		MaxGasBumps:     2,
	}
	return NewTracker(st, client, pm, bus, cfg, zap.NewNop()), st, pm, client
}

// seedWaiting creates an execution paused on the given tx hash, as the
// chain_tx block leaves it.
func seedWaiting(t *testing.T, st *store.Store, pm *pause.Manager, hash string) *store.Execution {
	t.Helper()
	ctx := context.Background()
	exec := &store.Execution{ID: uuid.NewString(), WorkflowID: "wf", Status: types.ExecutionPending}
	node := store.NodeExecution{
		ID: uuid.NewString(), ExecutionID: exec.ID, NodeID: "pay",
		BlockType: "chain_tx", Status: types.NodePending,
	}
	require.NoError(t, st.CreateExecution(ctx, exec, []store.NodeExecution{node}))
	require.NoError(t, st.TransitionExecution(ctx, exec.ID,
		[]types.ExecutionStatus{types.ExecutionPending}, types.ExecutionRunning))
	ok, err := st.TryClaimNode(ctx, node.ID, "w1")
	require.NoError(t, err)
	require.True(t, ok)

	sig := types.NewPauseSignal("waiting for on-chain confirmation", "tx:"+hash,
		map[string]any{"tx_hash": hash})
	_, err = pm.PauseForSignal(ctx, exec.ID, node.NodeID, node.ID, sig)
	require.NoError(t, err)
	return exec
}

func TestSubmitTransactionRecordsAttempt(t *testing.T) {
	tracker, st, _, client := setup(t)
	ctx := context.Background()

	hash, err := tracker.SubmitTransaction(ctx, blocks.TxRequest{
		ExecutionID: "exec-1", NodeID: "pay",
		ChainID: 1, To: "0xrecipient", Value: "1000",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xhash1", hash)

	require.Len(t, client.sent, 1)
	assert.Equal(t, uint64(7), client.sent[0].Nonce)
	assert.Equal(t, "0xsender", client.sent[0].From)

	tx, err := st.ChainTransactionByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, store.TxStatusSubmitted, tx.Status)
	require.Len(t, tx.Attempts, 1)
	assert.Equal(t, store.AttemptStatusPending, tx.Attempts[0].Status)
}

func TestSubmitTransactionBadValue(t *testing.T) {
	tracker, _, _, _ := setup(t)
	_, err := tracker.SubmitTransaction(context.Background(), blocks.TxRequest{
		ExecutionID: "e", NodeID: "n", ChainID: 1, To: "0xr", Value: "not-a-number",
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestConfirmationSettlesAndResumes(t *testing.T) {
	tracker, st, pm, client := setup(t)
	ctx := context.Background()

	hash, err := tracker.SubmitTransaction(ctx, blocks.TxRequest{
		ExecutionID: "ignored", NodeID: "pay", ChainID: 1, To: "0xr", Value: "0",
	})
	require.NoError(t, err)
	exec := seedWaiting(t, st, pm, hash)

	client.mine(hash, true)
	tracker.CheckOnce(ctx)

	tx, err := st.ChainTransactionByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, store.TxStatusConfirmed, tx.Status)

	got, err := st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionPending, got.Status, "waiting execution woke up")

	ne, err := st.GetNodeExecution(ctx, exec.ID, "pay")
	require.NoError(t, err)
	assert.Equal(t, "confirmed", ne.Inputs["status"])
	assert.Equal(t, hash, ne.Inputs["tx_hash"])
}

func TestRevertedTransactionResumesWithFailure(t *testing.T) {
	tracker, st, pm, client := setup(t)
	ctx := context.Background()

	hash, err := tracker.SubmitTransaction(ctx, blocks.TxRequest{
		ExecutionID: "ignored", NodeID: "pay", ChainID: 1, To: "0xr", Value: "0",
	})
	require.NoError(t, err)
	exec := seedWaiting(t, st, pm, hash)

	client.mine(hash, false)
	tracker.CheckOnce(ctx)

	tx, err := st.ChainTransactionByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, store.TxStatusFailed, tx.Status)

	ne, err := st.GetNodeExecution(ctx, exec.ID, "pay")
	require.NoError(t, err)
	assert.Equal(t, "failed", ne.Inputs["status"])
}

func TestGasBumpCreatesReplacementAttempt(t *testing.T) {
	tracker, st, _, client := setup(t)
	ctx := context.Background()

	hash, err := tracker.SubmitTransaction(ctx, blocks.TxRequest{
		ExecutionID: "e", NodeID: "pay", ChainID: 1, To: "0xr", Value: "500",
	})
	require.NoError(t, err)

	// age the attempt past the bump deadline
	tx, err := st.ChainTransactionByHash(ctx, hash)
	require.NoError(t, err)
	old := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, st.DB().Model(&store.TransactionAttempt{}).
		Where("transaction_id = ?", tx.ID).
		Update("submitted_at", old).Error)

	tracker.CheckOnce(ctx)

	tx, err = st.GetChainTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, tx.Attempts, 2)

	pending, err := st.PendingAttempt(ctx, tx.ID)
	require.NoError(t, err)
	assert.NotEqual(t, hash, pending.TxHash, "bump broadcasts a new hash")
	assert.Equal(t, "23000000000", pending.GasPrice, "15% over 20 gwei")

	// the rebroadcast reuses the nonce
	require.Len(t, client.sent, 2)
	assert.Equal(t, client.sent[0].Nonce, client.sent[1].Nonce)
}

func TestGasBumpStopsAtBudget(t *testing.T) {
	tracker, st, _, _ := setup(t)
	ctx := context.Background()

	hash, err := tracker.SubmitTransaction(ctx, blocks.TxRequest{
		ExecutionID: "e", NodeID: "pay", ChainID: 1, To: "0xr", Value: "0",
	})
	require.NoError(t, err)
	tx, err := st.ChainTransactionByHash(ctx, hash)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		old := time.Now().UTC().Add(-time.Minute)
		require.NoError(t, st.DB().Model(&store.TransactionAttempt{}).
			Where("transaction_id = ? AND status = ?", tx.ID, store.AttemptStatusPending).
			Update("submitted_at", old).Error)
		tracker.CheckOnce(ctx)
	}

	tx, err = st.GetChainTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Len(t, tx.Attempts, 3, "first broadcast + MaxGasBumps rebroadcasts")
}

func TestBumpThenConfirmResumesOriginalWaitKey(t *testing.T) {
	tracker, st, pm, client := setup(t)
	ctx := context.Background()

	hash, err := tracker.SubmitTransaction(ctx, blocks.TxRequest{
		ExecutionID: "ignored", NodeID: "pay", ChainID: 1, To: "0xr", Value: "0",
	})
	require.NoError(t, err)
	exec := seedWaiting(t, st, pm, hash)

	// force one bump
	tx, err := st.ChainTransactionByHash(ctx, hash)
	require.NoError(t, err)
	old := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, st.DB().Model(&store.TransactionAttempt{}).
		Where("transaction_id = ?", tx.ID).
		Update("submitted_at", old).Error)
	tracker.CheckOnce(ctx)

	pending, err := st.PendingAttempt(ctx, tx.ID)
	require.NoError(t, err)
	require.NotEqual(t, hash, pending.TxHash)

	// the bumped broadcast mines, but the execution paused on the
	// original hash
	client.mine(pending.TxHash, true)
	tracker.CheckOnce(ctx)

	got, err := st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionPending, got.Status)

	ne, err := st.GetNodeExecution(ctx, exec.ID, "pay")
	require.NoError(t, err)
	assert.Equal(t, pending.TxHash, ne.Inputs["tx_hash"], "resume carries the mined hash")
}

func TestReplacedOriginalMinesAndSettles(t *testing.T) {
	tracker, st, pm, client := setup(t)
	ctx := context.Background()

	hash, err := tracker.SubmitTransaction(ctx, blocks.TxRequest{
		ExecutionID: "ignored", NodeID: "pay", ChainID: 1, To: "0xr", Value: "0",
	})
	require.NoError(t, err)
	exec := seedWaiting(t, st, pm, hash)

	// force one bump so the original broadcast is marked replaced
	tx, err := st.ChainTransactionByHash(ctx, hash)
	require.NoError(t, err)
	old := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, st.DB().Model(&store.TransactionAttempt{}).
		Where("transaction_id = ?", tx.ID).
		Update("submitted_at", old).Error)
	tracker.CheckOnce(ctx)

	// the race goes the other way: the replaced original mines, the
	// bump never will
	client.mine(hash, true)
	tracker.CheckOnce(ctx)

	tx, err = st.GetChainTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TxStatusConfirmed, tx.Status)
	require.Len(t, tx.Attempts, 2)
	for _, a := range tx.Attempts {
		if a.TxHash == hash {
			assert.Equal(t, store.AttemptStatusMined, a.Status)
		} else {
			assert.Equal(t, store.AttemptStatusReplaced, a.Status)
		}
	}

	got, err := st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionPending, got.Status, "waiting execution woke up")

	ne, err := st.GetNodeExecution(ctx, exec.ID, "pay")
	require.NoError(t, err)
	assert.Equal(t, hash, ne.Inputs["tx_hash"])
	assert.Equal(t, "confirmed", ne.Inputs["status"])
}

func TestSubmitRetriesTransientSendFailures(t *testing.T) {
	tracker, _, _, client := setup(t)
	client.sendErr = types.NewRetryable("nonce too low", errors.New("nonce too low"))

	go func() {
		time.Sleep(600 * time.Millisecond)
		client.mu.Lock()
		client.sendErr = nil
		client.mu.Unlock()
	}()

	hash, err := tracker.SubmitTransaction(context.Background(), blocks.TxRequest{
		ExecutionID: "e", NodeID: "pay", ChainID: 1, To: "0xr", Value: "0",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
}
