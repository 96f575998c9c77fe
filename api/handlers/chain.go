package handlers

import (
	"net/http"

	"github.com/BaSui01/chainflow/api"
	"github.com/BaSui01/chainflow/store"
	"go.uber.org/zap"
)

// =============================================================================
// ⛓️ 链上交易 Handler
// =============================================================================

// ChainHandler 链上交易查询处理器
type ChainHandler struct {
	store  *store.Store
	logger *zap.Logger
}

// NewChainHandler 创建链上交易处理器
func NewChainHandler(st *store.Store, logger *zap.Logger) *ChainHandler {
	return &ChainHandler{store: st, logger: logger}
}

// HandleGet 处理交易查询请求
// @Summary 查询链上交易
// @Description 返回一笔逻辑交易及其全部广播尝试
// @Tags 链上交易
// @Produce json
// @Param id path string true "交易 ID"
// @Success 200 {object} Response "交易详情"
// @Failure 404 {object} Response "交易不存在"
// @Router /api/v1/transactions/{id} [get]
func (h *ChainHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	tx, err := h.store.GetChainTransaction(r.Context(), id)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	WriteSuccess(w, chainTxView(tx))
}

// HandleGetByHash 处理按交易哈希查询请求
// @Summary 按哈希查询链上交易
// @Description 按任意一次广播尝试的交易哈希定位逻辑交易
// @Tags 链上交易
// @Produce json
// @Param hash path string true "交易哈希"
// @Success 200 {object} Response "交易详情"
// @Failure 404 {object} Response "交易不存在"
// @Router /api/v1/transactions/hash/{hash} [get]
func (h *ChainHandler) HandleGetByHash(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")

	tx, err := h.store.ChainTransactionByHash(r.Context(), hash)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	WriteSuccess(w, chainTxView(tx))
}

// HandleListUnsettled 处理未结算交易列表请求
// @Summary 列出未结算交易
// @Description 返回仍在等待确认的全部交易
// @Tags 链上交易
// @Produce json
// @Success 200 {object} Response "交易列表"
// @Router /api/v1/transactions [get]
func (h *ChainHandler) HandleListUnsettled(w http.ResponseWriter, r *http.Request) {
	txs, err := h.store.ListUnsettledTransactions(r.Context())
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	views := make([]api.ChainTransactionView, 0, len(txs))
	for i := range txs {
		views = append(views, chainTxView(&txs[i]))
	}

	WriteSuccess(w, views)
}

func chainTxView(tx *store.ChainTransaction) api.ChainTransactionView {
	view := api.ChainTransactionView{
		ID:          tx.ID,
		ExecutionID: tx.ExecutionID,
		NodeID:      tx.NodeID,
		ChainID:     tx.ChainID,
		ToAddress:   tx.ToAddress,
		Value:       tx.Value,
		Nonce:       tx.Nonce,
		Status:      tx.Status,
		CreatedAt:   tx.CreatedAt,
		Attempts:    make([]api.TransactionAttemptView, 0, len(tx.Attempts)),
	}
	for _, a := range tx.Attempts {
		view.Attempts = append(view.Attempts, api.TransactionAttemptView{
			TxHash:      a.TxHash,
			GasPrice:    a.GasPrice,
			Status:      a.Status,
			BlockNumber: a.BlockNumber,
			GasUsed:     a.GasUsed,
			SubmittedAt: a.SubmittedAt,
			MinedAt:     a.MinedAt,
		})
	}
	return view
}
