package handler

import (
	"context"
	"net/http"

	"chatwithcode/internal/model"
	"chatwithcode/internal/repository"
	"chatwithcode/pkg/llm"
	"chatwithcode/pkg/log"

	"github.com/gin-gonic/gin"
)

// Predictor 回答问题，Stream 同时把分块写入 writer。
type Predictor interface {
	Predict(ctx context.Context, question string) (string, error)
	Stream(ctx context.Context, question string, writer llm.MessageWriter) (string, error)
}

// AskHandler 处理问答接口与问答日志查询。
type AskHandler struct {
	predictor Predictor
	qaLogRepo repository.QALogRepository
}

// NewAskHandler 创建一个新的 AskHandler。
func NewAskHandler(predictor Predictor, qaLogRepo repository.QALogRepository) *AskHandler {
	return &AskHandler{predictor: predictor, qaLogRepo: qaLogRepo}
}

type askRequest struct {
	Question string `json:"question"`
}

// Ask 处理 POST /ask。
func (h *AskHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	answer, err := h.predictor.Predict(c.Request.Context(), req.Question)
	if err != nil {
		log.Errorf("[AskHandler] 回答问题失败: %v", err)
		c.JSON(StatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

// History 处理 GET /history，返回问答日志数组。
func (h *AskHandler) History(c *gin.Context) {
	records, err := h.qaLogRepo.List(c.Request.Context())
	if err != nil {
		log.Errorf("[AskHandler] 读取问答日志失败: %v", err)
		c.JSON(StatusFor(err), gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []model.QARecord{}
	}
	c.JSON(http.StatusOK, records)
}
