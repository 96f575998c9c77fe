package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/chainflow/events"
)

// =============================================================================
// 🔌 事件流 Handler（WebSocket）
// =============================================================================

// EventSource 是事件流处理器需要的订阅能力
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan events.Event, error)
}

// EventStreamHandler 将执行事件推送给 WebSocket 客户端
type EventStreamHandler struct {
	source EventSource
	logger *zap.Logger

	// pingInterval 控制保活 ping 的频率，测试可调小
	pingInterval time.Duration
}

// NewEventStreamHandler 创建事件流处理器
func NewEventStreamHandler(source EventSource, logger *zap.Logger) *EventStreamHandler {
	return &EventStreamHandler{
		source:       source,
		logger:       logger,
		pingInterval: 30 * time.Second,
	}
}

// HandleStream 处理事件流订阅请求
// @Summary 订阅执行事件
// @Description 升级为 WebSocket 并推送执行事件；路径中的执行 ID 过滤事件，
// /api/v1/events 推送全部执行的事件
// @Tags 事件
// @Param id path string false "执行 ID"
// @Router /api/v1/executions/{id}/events [get]
func (h *EventStreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 客户端不发送业务消息；读循环只为了发现对端关闭
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	ch, err := h.source.Subscribe(ctx)
	if err != nil {
		h.logger.Error("event subscribe failed", zap.Error(err))
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}

	h.logger.Info("event stream opened",
		zap.String("execution_id", executionID),
		zap.String("remote", r.RemoteAddr))

	pings := time.NewTicker(h.pingInterval)
	defer pings.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closing")
			return

		case <-pings.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}

		case evt, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "event bus closed")
				return
			}
			if executionID != "" && evt.ExecutionID != executionID {
				continue
			}
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.Error("event marshal failed", zap.Error(err))
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				h.logger.Debug("event stream client gone", zap.Error(err))
				return
			}
		}
	}
}
