package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/packagewjx/spc-monitor/pkg/core"
	"github.com/packagewjx/spc-monitor/pkg/server"
	"github.com/pkg/errors"
)

const DefaultApiHostBaseUrl = "http://localhost:2000"

const defaultTimeout = 30 * time.Second

// Client 是监控服务HTTP接口的客户端
type Client interface {
	Snapshot(ctx context.Context) (*core.DashboardSnapshot, error)
	Sku(ctx context.Context) (string, error)
	SelectSku(ctx context.Context, sku string) (string, error)
	Refresh(ctx context.Context) (*core.DashboardSnapshot, error)
	ApplyCorrection(ctx context.Context) (*core.DashboardSnapshot, error)
}

func NewApiClient(baseUrl string) Client {
	if baseUrl == "" {
		baseUrl = DefaultApiHostBaseUrl
	}
	return &apiClient{
		baseUrl: strings.TrimSuffix(baseUrl, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

var _ Client = &apiClient{}

type apiClient struct {
	baseUrl string
	client  *http.Client
}

func (a *apiClient) Snapshot(ctx context.Context) (*core.DashboardSnapshot, error) {
	dest := &core.DashboardSnapshot{}
	return dest, a.do(ctx, http.MethodGet, "/api/snapshot", nil, dest)
}

func (a *apiClient) Sku(ctx context.Context) (string, error) {
	dest := &server.SkuResponse{}
	if err := a.do(ctx, http.MethodGet, "/api/sku", nil, dest); err != nil {
		return "", err
	}
	return dest.Sku, nil
}

func (a *apiClient) SelectSku(ctx context.Context, sku string) (string, error) {
	dest := &server.SkuResponse{}
	if err := a.do(ctx, http.MethodPost, "/api/sku", &server.SelectSkuRequest{Sku: sku}, dest); err != nil {
		return "", err
	}
	return dest.Sku, nil
}

func (a *apiClient) Refresh(ctx context.Context) (*core.DashboardSnapshot, error) {
	dest := &core.DashboardSnapshot{}
	return dest, a.do(ctx, http.MethodPost, "/api/refresh", nil, dest)
}

func (a *apiClient) ApplyCorrection(ctx context.Context) (*core.DashboardSnapshot, error) {
	dest := &core.DashboardSnapshot{}
	return dest, a.do(ctx, http.MethodPost, "/api/correction", nil, dest)
}

func (a *apiClient) do(ctx context.Context, method, path string, payload, dest interface{}) error {
	var body io.Reader
	if payload != nil {
		marshal, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "序列化请求出错")
		}
		body = bytes.NewReader(marshal)
	}

	request, err := http.NewRequestWithContext(ctx, method, a.baseUrl+path, body)
	if err != nil {
		return errors.Wrap(err, "创建请求出错")
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := a.client.Do(request)
	if err != nil {
		return errors.Wrap(err, "请求时出现异常")
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return errors.Wrap(err, "读取时出现异常")
	}

	if response.StatusCode != http.StatusOK {
		errResp := &server.ErrorResponse{}
		if json.Unmarshal(data, errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("请求%s失败，状态码%d：%s", path, response.StatusCode, errResp.Error)
		}
		return fmt.Errorf("请求%s失败，状态码%d", path, response.StatusCode)
	}

	err = json.Unmarshal(data, dest)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("解析json异常，json为\n%s", string(data)))
	}
	return nil
}
