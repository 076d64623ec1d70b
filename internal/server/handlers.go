package server

import (
	"net/http"
	"time"

	"hitomi/internal/stream"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status    string        `json:"status"`
	Uptime    string        `json:"uptime"`
	Clients   int           `json:"clients"`
	Stream    stream.Status `json:"stream"`
	Timestamp time.Time     `json:"timestamp"`
}

// ErrorResponse はエラーレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// handleIndex は埋め込みのビューアーページを返す
func (s *Server) handleIndex(c *gin.Context) {
	data, err := indexHTML()
	if err != nil {
		s.logger.Error("ビューアーページの読み込みに失敗しました", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "internal_error",
			Message:   "ビューアーページを読み込めません",
			Timestamp: time.Now(),
		})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", data)
}

// handleStream はWebSocketへアップグレードする。通常のGETには説明文を返す
func (s *Server) handleStream(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.String(http.StatusOK, "WebSocket stream")
		return
	}

	if err := s.hub.ServeWS(c.Writer, c.Request); err != nil {
		s.logger.Warn("WebSocket接続を確立できませんでした",
			zap.String("remote_addr", c.Request.RemoteAddr),
			zap.Error(err))
	}
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Status:    "running",
		Uptime:    time.Since(s.startedAt).Truncate(time.Second).String(),
		Clients:   s.hub.Count(),
		Stream:    s.status.Status(),
		Timestamp: time.Now(),
	})
}
