package server

import (
	"context"
	"fmt"

	"github.com/packagewjx/spc-monitor/pkg/core"
)

// Dashboard 是展示层可以使用的全部能力
type Dashboard interface {
	Snapshot() core.DashboardSnapshot
	Sku() string

	// SelectSku 去除空白后为空或与当前值相同时忽略
	SelectSku(sku string)
	Refresh(ctx context.Context)
	// ApplyCorrection 结果体现在快照的isLoading与error字段中
	ApplyCorrection(ctx context.Context)

	// Watch 先发出当前快照，之后每次变化发出最新快照，ctx结束时关闭
	Watch(ctx context.Context) <-chan core.DashboardSnapshot
	WatchSku(ctx context.Context) <-chan string
}

type SelectSkuRequest struct {
	Sku string `json:"sku" binding:"required"`
}

type SkuResponse struct {
	Sku string `json:"sku"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

var ErrBlankSku = fmt.Errorf("SKU不能为空")
