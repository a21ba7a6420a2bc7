package spcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const DefaultSpcServerBaseUrl = "http://localhost:8000"

// Client 访问充填线SPC后端的REST接口
type Client interface {
	QueryRecentCycles(ctx context.Context, sku string, limit int) ([]*CycleOut, error)

	QuerySpcState(ctx context.Context, sku string) (*SpcCurrentState, error)

	QueryRecentAlarms(ctx context.Context, sku string, limit int) ([]*AlarmOut, error)

	QueryCurrentSku(ctx context.Context) (*CurrentSku, error)

	ApplyCorrection(ctx context.Context, sku string) (*CorrectionResponse, error)
}

type CycleOut struct {
	ID          int64    `json:"id"`
	Seq         int      `json:"seq"`
	Sku         string   `json:"sku"`
	TargetMl    float64  `json:"target_ml"`
	ActualMl    *float64 `json:"actual_ml"`
	ValveMs     *float64 `json:"valve_ms"`
	Error       *float64 `json:"error"`
	NextValveMs *float64 `json:"next_valve_ms"`
	SpcState    *string  `json:"spc_state"`
	CreatedAt   string   `json:"created_at"`
}

type SpcCurrentState struct {
	SpcState  string   `json:"spc_state"`
	AlarmType *string  `json:"alarm_type"`
	Mean      *float64 `json:"mean"`
	Std       *float64 `json:"std"`
	CusumPos  *float64 `json:"cusum_pos"`
	CusumNeg  *float64 `json:"cusum_neg"`
	NSamples  *int     `json:"n_samples"`
}

type AlarmOut struct {
	ID         int64   `json:"id"`
	Sku        string  `json:"sku"`
	Level      string  `json:"level"`
	AlarmType  *string `json:"alarm_type"`
	Message    *string `json:"message"`
	CycleID    *int64  `json:"cycle_id"`
	SpcStateID *int64  `json:"spc_state_id"`
	CreatedAt  string  `json:"created_at"`
}

type CurrentSku struct {
	SkuId *string `json:"sku_id"`
}

type CorrectionRequest struct {
	SkuId string `json:"sku_id"`
}

type CorrectionResponse struct {
	SkuId  string `json:"sku_id"`
	Status string `json:"status"`
}

// StatusError 表示服务端返回了非2xx状态码
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("服务端返回状态码%d：%s", e.StatusCode, e.Body)
}

type httpClient struct {
	baseUrl string
	client  *http.Client
}

var _ Client = &httpClient{}

// NewHttpSpcClient 创建客户端。timeout为单次请求的超时时间，为0时不限制。
func NewHttpSpcClient(baseUrl string, timeout time.Duration) Client {
	if baseUrl == "" {
		baseUrl = DefaultSpcServerBaseUrl
	}
	return &httpClient{
		baseUrl: baseUrl,
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *httpClient) QueryRecentCycles(ctx context.Context, sku string, limit int) ([]*CycleOut, error) {
	query := url.Values{}
	query.Set("sku", sku)
	query.Set("limit", strconv.Itoa(limit))

	dest := make([]*CycleOut, 0)
	err := h.do(ctx, http.MethodGet, "/api/v1/cycles/?"+query.Encode(), nil, &dest)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询SKU为%s的充填周期出错", sku))
	}
	return dest, nil
}

func (h *httpClient) QuerySpcState(ctx context.Context, sku string) (*SpcCurrentState, error) {
	query := url.Values{}
	query.Set("sku", sku)

	dest := &SpcCurrentState{}
	err := h.do(ctx, http.MethodGet, "/api/v1/quality/spc_state?"+query.Encode(), nil, dest)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询SKU为%s的SPC状态出错", sku))
	}
	return dest, nil
}

func (h *httpClient) QueryRecentAlarms(ctx context.Context, sku string, limit int) ([]*AlarmOut, error) {
	query := url.Values{}
	query.Set("sku", sku)
	query.Set("limit", strconv.Itoa(limit))

	dest := make([]*AlarmOut, 0)
	err := h.do(ctx, http.MethodGet, "/api/v1/alarms/recent?"+query.Encode(), nil, &dest)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("查询SKU为%s的报警出错", sku))
	}
	return dest, nil
}

func (h *httpClient) QueryCurrentSku(ctx context.Context) (*CurrentSku, error) {
	dest := &CurrentSku{}
	err := h.do(ctx, http.MethodGet, "/api/v1/control/current_sku", nil, dest)
	if err != nil {
		return nil, errors.Wrap(err, "查询当前SKU出错")
	}
	return dest, nil
}

func (h *httpClient) ApplyCorrection(ctx context.Context, sku string) (*CorrectionResponse, error) {
	dest := &CorrectionResponse{}
	err := h.do(ctx, http.MethodPost, "/api/v1/control/apply_correction", &CorrectionRequest{SkuId: sku}, dest)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("请求校正SKU%s出错", sku))
	}
	return dest, nil
}

func (h *httpClient) do(ctx context.Context, method, path string, payload interface{}, dest interface{}) error {
	var body io.Reader
	if payload != nil {
		marshal, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "序列化请求异常")
		}
		body = bytes.NewReader(marshal)
	}

	request, err := http.NewRequestWithContext(ctx, method, h.baseUrl+path, body)
	if err != nil {
		return errors.Wrap(err, "创建请求异常")
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := h.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return errors.Wrap(err, "读取出现异常")
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &StatusError{StatusCode: response.StatusCode, Body: string(data)}
	}

	err = json.Unmarshal(data, dest)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("反序列化异常，值为%s", string(data)))
	}
	return nil
}
