package backend

import (
	"context"
	"fmt"

	"github.com/packagewjx/spc-monitor/pkg/core"
)

// Backend 是数据源需要满足的能力集合。远程轮询、实时文档库与本地库各有一个实现。
type Backend interface {
	// Observe 返回指定SKU的快照序列。序列只在ctx结束时关闭，获取失败会以带错误的快照发出。
	Observe(ctx context.Context, sku string) <-chan core.DashboardSnapshot

	Refresh(ctx context.Context, sku string) error

	// ApplyCorrection 失败时返回的错误包装了 ErrCorrection
	ApplyCorrection(ctx context.Context, sku string) error

	// FetchCurrentSku 在不支持或未知时返回空字符串
	FetchCurrentSku(ctx context.Context) (string, error)
}

var ErrCorrection = fmt.Errorf("校正请求被拒绝")

var ErrTransientFetch = fmt.Errorf("获取数据失败")

var ErrMalformedRecord = fmt.Errorf("记录格式错误")

const (
	KindRemote   = "remote"
	KindDocstore = "docstore"
	KindLocal    = "local"
)
