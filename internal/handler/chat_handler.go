package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"chatwithcode/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理 WebSocket 流式问答连接。
type ChatHandler struct {
	predictor Predictor
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(predictor Predictor) *ChatHandler {
	return &ChatHandler{predictor: predictor}
}

// Handle 处理一个传入的 WebSocket 连接，每条文本消息都是一个问题。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立: %s", c.ClientIP())

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			break
		}

		interceptor := &chunkWriter{conn: conn}
		if _, err := h.predictor.Stream(c.Request.Context(), string(message), interceptor); err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			writeJSON(conn, map[string]string{"error": err.Error()})
		}
		sendCompletion(conn)
	}
}

// chunkWriter 把原始分块包装成 {"chunk":"..."} 写入连接。
type chunkWriter struct {
	conn *websocket.Conn
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *chunkWriter) WriteMessage(_ int, data []byte) error {
	b, _ := json.Marshal(map[string]string{"chunk": string(data)})
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(conn *websocket.Conn) {
	writeJSON(conn, map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	})
}

func writeJSON(conn *websocket.Conn, v interface{}) {
	b, _ := json.Marshal(v)
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
