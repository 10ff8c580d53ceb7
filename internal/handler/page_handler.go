package handler

import (
	"context"
	"net/http"

	"chatwithcode/internal/model"
	"chatwithcode/pkg/log"

	"github.com/gin-gonic/gin"
)

// Processor 克隆并索引一个仓库。
type Processor interface {
	Process(ctx context.Context, url string) (*model.ProcessResult, error)
}

// pageData 是 index.html 的渲染数据。
type pageData struct {
	Message string
	Error   bool
}

// PageHandler 渲染首页并处理仓库地址表单。
type PageHandler struct {
	processor Processor
}

// NewPageHandler 创建一个新的 PageHandler。
func NewPageHandler(processor Processor) *PageHandler {
	return &PageHandler{processor: processor}
}

// Index 渲染首页。
func (h *PageHandler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", pageData{})
}

// SubmitURL 处理 POST /get_url，处理完成后带着状态信息重新渲染首页。
func (h *PageHandler) SubmitURL(c *gin.Context) {
	url := c.PostForm("url")
	res, err := h.processor.Process(c.Request.Context(), url)
	if err != nil {
		log.Errorf("[PageHandler] 处理仓库失败: %v", err)
		c.HTML(StatusFor(err), "index.html", pageData{Message: err.Error(), Error: true})
		return
	}
	c.HTML(http.StatusOK, "index.html", pageData{Message: res.Message})
}
