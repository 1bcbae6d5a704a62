package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"rejudge/internal/rejudge/progress"
	"rejudge/pkg/utils/logger"
	"rejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	ndjsonContentType = "application/x-ndjson"
	wsWriteTimeout    = 10 * time.Second
)

// operation is a long-running rejudging operation that reports to a progress stream.
type operation func(ctx context.Context, reporter progress.Reporter)

// start runs op detached from the request. Once started an operation always runs to
// completion; a client that goes away only stops receiving events.
func (h *RejudgingController) start(reqCtx context.Context, op operation) *progress.Stream {
	stream := progress.NewStream(reqCtx, h.streamBuffer)
	runCtx := context.WithoutCancel(reqCtx)
	go op(runCtx, stream)
	return stream
}

// streamNDJSON writes every event of op as one JSON line, flushing after each.
func (h *RejudgingController) streamNDJSON(c *gin.Context, op operation) {
	c.Header("Content-Type", ndjsonContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	stream := h.start(ctx, op)
	encoder := json.NewEncoder(c.Writer)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream.Events():
			if !ok {
				return
			}
			if err := encoder.Encode(event); err != nil {
				logger.Warn(ctx, "write progress event failed", zap.Error(err))
				return
			}
			c.Writer.Flush()
		}
	}
}

// streamWebsocket writes every event of op as one websocket text frame and closes normally.
func (h *RejudgingController) streamWebsocket(ctx context.Context, conn *websocket.Conn, op operation) {
	stream := h.start(ctx, op)
	for event := range stream.Events() {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(event); err != nil {
			logger.Warn(ctx, "write progress frame failed", zap.Error(err))
			return
		}
	}
	closeNormally(conn, "")
}

func writeWebsocketError(c *gin.Context, conn *websocket.Conn, err error) {
	resp := response.ErrorBody(c, err)
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteJSON(resp)
	closeNormally(conn, resp.Message)
}

func closeNormally(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, truncateReason(reason)),
		time.Now().Add(wsWriteTimeout),
	)
}

// truncateReason keeps a close reason within the 123 bytes a control frame allows.
func truncateReason(reason string) string {
	const maxReason = 123
	if len(reason) <= maxReason {
		return reason
	}
	return reason[:maxReason]
}
