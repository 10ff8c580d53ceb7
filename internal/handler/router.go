package handler

import (
	"net/http"

	"chatwithcode/internal/config"
	"chatwithcode/internal/middleware"
	"chatwithcode/internal/repository"
	"chatwithcode/pkg/metrics"
	"chatwithcode/web"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// Pipeline 是路由需要的流水线入口。
type Pipeline interface {
	Processor
	Predictor
}

// NewRouter 创建 gin 引擎并注册所有路由。
func NewRouter(pipeline Pipeline, qaLogRepo repository.QALogRepository, metricsCfg config.MetricsConfig) (*gin.Engine, error) {
	tmpl, err := web.Templates()
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(
		middleware.RequestLogger(),
		middleware.Metrics(),
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/chat"})),
		gin.Recovery(),
	)
	r.SetHTMLTemplate(tmpl)
	r.StaticFS("/static", http.FS(web.Static()))

	pageHandler := NewPageHandler(pipeline)
	askHandler := NewAskHandler(pipeline, qaLogRepo)
	chatHandler := NewChatHandler(pipeline)

	r.GET("/", pageHandler.Index)
	r.GET("/get_url", pageHandler.Index)
	r.POST("/get_url", pageHandler.SubmitURL)
	r.POST("/ask", askHandler.Ask)
	r.GET("/history", askHandler.History)
	r.GET("/chat", chatHandler.Handle)

	if metricsCfg.Enabled {
		path := metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(metrics.Handler()))
	}
	return r, nil
}
