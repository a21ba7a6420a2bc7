package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/packagewjx/spc-monitor/internal/dashboard"
	"github.com/packagewjx/spc-monitor/internal/linetap"
	"github.com/packagewjx/spc-monitor/internal/observability"
	"github.com/packagewjx/spc-monitor/internal/store"
	"github.com/packagewjx/spc-monitor/pkg/backend"
	"github.com/packagewjx/spc-monitor/pkg/core"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPort             = 2000
	DefaultBackend          = backend.KindRemote
	DefaultRemoteUrl        = "http://localhost:8000"
	DefaultRemoteInterval   = 3 * time.Second
	DefaultDocstoreInterval = 2 * time.Second
	DefaultLocalInterval    = 500 * time.Millisecond
	DefaultFollowInterval   = 800 * time.Millisecond
	DefaultRefreshInterval  = 800 * time.Millisecond
	DefaultCallTimeout      = 5 * time.Second
	DefaultRedisAddr        = "localhost:6379"
	DefaultDatabase         = store.DriverSqlite
	DefaultDsn              = "spc-monitor.db"
	DefaultMqttClientId     = "spc-monitor"
	DefaultRetention        = 7 * 24 * time.Hour
	DefaultLogLevel         = "info"
)

const (
	retentionCheckInterval = time.Hour
	shutdownTimeout        = 5 * time.Second
)

type ServerConfig struct {
	Port    uint16 `validate:"gte=1024"` // 本服务器监听端口
	Backend string `validate:"oneof=remote docstore local"`

	RemoteUrl        string `validate:"omitempty,url"` // SPC后端地址，仅remote使用
	RemoteInterval   time.Duration
	DocstoreInterval time.Duration
	LocalInterval    time.Duration
	FollowInterval   time.Duration
	RefreshInterval  time.Duration
	CallTimeout      time.Duration // 每次后端调用的超时时间

	DefaultSku string
	Discover   bool // 启动时从后端获取当前SKU
	Follow     bool // 跟随后端SKU变化并定时刷新

	RedisAddr     string
	RedisPassword string `json:"-"`
	RedisDB       int    `validate:"gte=0"`

	Database string `validate:"oneof=sqlite mysql"`
	Dsn      string

	MqttBroker   string // 为空时不订阅产线事件
	MqttClientId string
	Retention    time.Duration // 本地周期数据保留时长，为0时不清理

	LogLevel string `validate:"oneof=debug info warn error"`
}

func (config ServerConfig) String() string {
	marshal, _ := json.Marshal(config)
	return string(marshal)
}

var validate = validator.New()

func (config *ServerConfig) Complete() error {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Backend == "" {
		config.Backend = DefaultBackend
	}
	setDuration := func(d *time.Duration, def time.Duration) {
		if *d == 0 {
			*d = def
		}
	}
	setDuration(&config.RemoteInterval, DefaultRemoteInterval)
	setDuration(&config.DocstoreInterval, DefaultDocstoreInterval)
	setDuration(&config.LocalInterval, DefaultLocalInterval)
	setDuration(&config.FollowInterval, DefaultFollowInterval)
	setDuration(&config.RefreshInterval, DefaultRefreshInterval)
	setDuration(&config.CallTimeout, DefaultCallTimeout)
	config.DefaultSku = strings.TrimSpace(config.DefaultSku)
	if config.DefaultSku == "" {
		config.DefaultSku = core.DefaultSku
	}
	if config.Database == "" {
		config.Database = DefaultDatabase
	}
	if config.MqttClientId == "" {
		config.MqttClientId = DefaultMqttClientId
	}
	if config.LogLevel == "" {
		config.LogLevel = DefaultLogLevel
	}

	if err := validate.Struct(config); err != nil {
		return errors.Wrap(err, "配置不合法")
	}

	for name, d := range map[string]time.Duration{
		"RemoteInterval":   config.RemoteInterval,
		"DocstoreInterval": config.DocstoreInterval,
		"LocalInterval":    config.LocalInterval,
		"FollowInterval":   config.FollowInterval,
		"RefreshInterval":  config.RefreshInterval,
		"CallTimeout":      config.CallTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s不能为负数，现在为%s", name, d)
		}
	}
	if config.Retention < 0 {
		return fmt.Errorf("数据保留时长不能为负数，现在为%s", config.Retention)
	}

	switch config.Backend {
	case backend.KindRemote:
		if config.RemoteUrl == "" {
			return fmt.Errorf("remote模式需要指定SPC后端地址")
		}
	case backend.KindDocstore:
		if config.RedisAddr == "" {
			return fmt.Errorf("docstore模式需要指定Redis地址")
		}
	case backend.KindLocal:
		if config.Dsn == "" {
			return fmt.Errorf("local模式需要指定数据库连接串")
		}
	}

	return nil
}

type Server interface {
	Start() error
}

type serverImpl struct {
	config    *ServerConfig
	backend   backend.Backend
	dashboard *dashboard.Dashboard
	tap       *linetap.Tap
	dao       store.Dao
	registry  *prometheus.Registry
	metrics   *observability.Metrics
	logger    *slog.Logger
	closers   []func() error
}

func NewServer(config *ServerConfig) (Server, error) {
	if err := config.Complete(); err != nil {
		return nil, err
	}
	return newServer(config, NewLogger(config.LogLevel))
}

func newServer(config *ServerConfig, logger *slog.Logger) (*serverImpl, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &serverImpl{
		config:   config,
		registry: registry,
		metrics:  observability.NewMetrics(registry),
		logger:   logger.With("component", "server"),
	}

	b, err := s.buildBackend(logger)
	if err != nil {
		_ = s.close()
		return nil, err
	}
	s.backend = b
	s.dashboard = dashboard.New(b, dashboard.Options{
		Discover:        config.Discover,
		Follow:          config.Follow,
		DefaultSku:      config.DefaultSku,
		FollowInterval:  config.FollowInterval,
		RefreshInterval: config.RefreshInterval,
		CallTimeout:     config.CallTimeout,
	}, s.metrics, logger)
	return s, nil
}

// NewLogger 创建指定级别的日志，输出到标准输出
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: true,
	}))
}

func (s *serverImpl) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 注册信号接收器
	termSigChan := make(chan os.Signal, 1)
	signal.Notify(termSigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(termSigChan)
	go func() {
		select {
		case sig := <-termSigChan:
			s.logger.Info("收到退出信号", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return s.run(ctx)
}

// run 启动所有组件，直到ctx结束或HTTP服务器出错
func (s *serverImpl) run(ctx context.Context) error {
	defer func() {
		if err := s.close(); err != nil {
			s.logger.Warn("关闭资源出错", "error", err.Error())
		}
	}()
	s.logger.Info("服务器启动", "config", s.config.String())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.dashboard.Run(groupCtx)
	})
	if s.tap != nil {
		group.Go(func() error {
			if err := s.tap.Run(groupCtx, s.config.MqttBroker, s.config.MqttClientId); err != nil {
				s.logger.Warn("产线事件订阅失败", "error", err.Error())
				s.metrics.BackgroundError(observability.LoopLineTap)
			}
			return nil
		})
	}
	if s.dao != nil && s.config.Retention > 0 {
		group.Go(func() error {
			s.retainer(groupCtx, retentionCheckInterval)
			return nil
		})
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: NewRouter(s.dashboard, s.registry, s.logger),
	}
	group.Go(func() error {
		s.logger.Info("API服务器启动", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "HTTP服务器出现错误")
		}
		s.logger.Info("API服务器结束")
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "关闭HTTP服务器失败")
		}
		return nil
	})

	return group.Wait()
}

func (s *serverImpl) close() error {
	var result error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && result == nil {
			result = err
		}
	}
	s.closers = nil
	return result
}
