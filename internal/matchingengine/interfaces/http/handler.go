// Package http 撮合引擎运维接口：重建、诊断输出与深度查询
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/spotexchange/internal/matchingengine/application"
	"github.com/wyfcoding/spotexchange/internal/matchingengine/domain"
	refdata "github.com/wyfcoding/spotexchange/internal/referencedata/domain"
	"github.com/wyfcoding/spotexchange/pkg/logger"
)

// MatchingHandler HTTP 处理器
type MatchingHandler struct {
	registry *application.Registry
	dumpDir  string
}

// NewMatchingHandler 创建处理器，dump 文件写入 dumpDir
func NewMatchingHandler(registry *application.Registry, dumpDir string) *MatchingHandler {
	return &MatchingHandler{registry: registry, dumpDir: dumpDir}
}

// RegisterRoutes 注册路由
func (h *MatchingHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/engines")
	{
		api.GET("", h.ListEngines)
		api.POST("/:market/reload", h.Reload)
		api.GET("/:market/dump", h.Dump)
		api.GET("/:market/depth", h.GetDepth)
	}
}

// ListEngines 运行中的市场
func (h *MatchingHandler) ListEngines(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"markets": h.registry.Running()})
}

// Reload 重建市场内存状态，market 为 all 时重建全部
func (h *MatchingHandler) Reload(c *gin.Context) {
	market := c.Param("market")
	if err := h.registry.Reload(c.Request.Context(), market); err != nil {
		fail(c, err)
		return
	}
	logger.Info(c.Request.Context(), "matching engine reload requested", "market", market)
	c.JSON(http.StatusOK, gin.H{"market": market, "reloaded": true})
}

// Dump 输出订单簿诊断文件
func (h *MatchingHandler) Dump(c *gin.Context) {
	path, err := h.registry.Dump(c.Request.Context(), c.Param("market"), h.dumpDir)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

// GetDepth 订单簿深度
func (h *MatchingHandler) GetDepth(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
		return
	}
	depth, err := h.registry.Depth(c.Request.Context(), c.Param("market"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, depth)
}

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, refdata.ErrMarketNotFound):
		status = http.StatusNotFound
	case errors.Is(err, application.ErrEngineReloading),
		errors.Is(err, application.ErrRegistryClosed),
		errors.Is(err, domain.ErrEngineHalted):
		status = http.StatusServiceUnavailable
	}
	if status != http.StatusNotFound {
		logger.Error(c.Request.Context(), "matching request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
