package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/packagewjx/spc-monitor/pkg/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type api struct {
	dashboard server.Dashboard
	logger    *slog.Logger
}

// NewRouter 构造看板的HTTP接口
func NewRouter(d server.Dashboard, gatherer prometheus.Gatherer, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{
		dashboard: d,
		logger:    logger.With("component", "api"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), a.accessLog)

	group := router.Group("/api")
	group.GET("/snapshot", a.getSnapshot)
	group.GET("/sku", a.getSku)
	group.POST("/sku", a.selectSku)
	group.POST("/refresh", a.refresh)
	group.POST("/correction", a.applyCorrection)
	group.GET("/ws", a.watch)
	group.GET("/sku/ws", a.watchSku)

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return router
}

func (a *api) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	a.logger.Debug("请求完成",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"elapsed", time.Since(start).String())
}

func (a *api) getSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, a.dashboard.Snapshot())
}

func (a *api) getSku(c *gin.Context) {
	c.JSON(http.StatusOK, server.SkuResponse{Sku: a.dashboard.Sku()})
}

func (a *api) selectSku(c *gin.Context) {
	req := server.SelectSkuRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, server.ErrorResponse{Error: err.Error()})
		return
	}
	if strings.TrimSpace(req.Sku) == "" {
		c.JSON(http.StatusBadRequest, server.ErrorResponse{Error: server.ErrBlankSku.Error()})
		return
	}
	a.logger.Info("接收到切换SKU的请求", "sku", req.Sku)
	a.dashboard.SelectSku(req.Sku)
	c.JSON(http.StatusOK, server.SkuResponse{Sku: a.dashboard.Sku()})
}

func (a *api) refresh(c *gin.Context) {
	a.dashboard.Refresh(c.Request.Context())
	c.JSON(http.StatusOK, a.dashboard.Snapshot())
}

func (a *api) applyCorrection(c *gin.Context) {
	a.logger.Info("接收到校正请求", "sku", a.dashboard.Sku())
	a.dashboard.ApplyCorrection(c.Request.Context())
	c.JSON(http.StatusOK, a.dashboard.Snapshot())
}

// watch 通过websocket推送快照，每次变化推送一次最新值
func (a *api) watch(c *gin.Context) {
	stream(a, c, a.dashboard.Watch)
}

// watchSku 通过websocket推送当前SKU，每次切换推送一次
func (a *api) watchSku(c *gin.Context) {
	stream(a, c, func(ctx context.Context) <-chan server.SkuResponse {
		out := make(chan server.SkuResponse)
		go func() {
			defer close(out)
			for sku := range a.dashboard.WatchSku(ctx) {
				select {
				case out <- server.SkuResponse{Sku: sku}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	})
}

// stream 把subscribe返回的值逐个以JSON写入websocket，直到客户端断开
func stream[T any](a *api, c *gin.Context, subscribe func(ctx context.Context) <-chan T) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Warn("websocket升级失败", "error", err.Error())
		return
	}
	defer ws.Close()

	id := uuid.NewString()
	a.logger.Info("websocket客户端连接", "id", id, "path", c.Request.URL.Path)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// 客户端不发送数据，读取只用于发现连接关闭
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for v := range subscribe(ctx) {
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := ws.WriteJSON(v); err != nil {
			a.logger.Debug("websocket写入失败", "id", id, "error", err.Error())
			break
		}
	}
	a.logger.Info("websocket客户端断开", "id", id)
}
