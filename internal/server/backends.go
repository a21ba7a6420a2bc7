package server

import (
	"fmt"
	"log/slog"

	"github.com/packagewjx/spc-monitor/internal/backend/docstore"
	"github.com/packagewjx/spc-monitor/internal/backend/local"
	"github.com/packagewjx/spc-monitor/internal/backend/remote"
	"github.com/packagewjx/spc-monitor/internal/linetap"
	"github.com/packagewjx/spc-monitor/internal/store"
	"github.com/packagewjx/spc-monitor/pkg/backend"
	"github.com/packagewjx/spc-monitor/pkg/spcclient"
)

// buildBackend 按配置创建数据源。需要释放的资源登记在closers中。
func (s *serverImpl) buildBackend(logger *slog.Logger) (backend.Backend, error) {
	config := s.config
	switch config.Backend {
	case backend.KindRemote:
		if config.MqttBroker != "" {
			s.logger.Warn("remote模式没有本地存储，忽略产线事件订阅")
		}
		client := spcclient.NewHttpSpcClient(config.RemoteUrl, config.CallTimeout)
		return remote.New(client, config.RemoteInterval, config.CallTimeout, logger), nil

	case backend.KindDocstore:
		client := docstore.NewRedisClient(config.RedisAddr, config.RedisPassword, config.RedisDB)
		s.closers = append(s.closers, client.Close)
		b := docstore.New(client, config.DocstoreInterval, config.CallTimeout, config.DefaultSku, logger)
		if config.MqttBroker != "" {
			s.tap = linetap.New(b, s.metrics, logger)
		}
		return b, nil

	case backend.KindLocal:
		dao, err := store.NewDao(config.Database, config.Dsn)
		if err != nil {
			return nil, err
		}
		s.dao = dao
		s.closers = append(s.closers, func() error {
			db, err := dao.DB().DB()
			if err != nil {
				return err
			}
			return db.Close()
		})

		var signal local.SkuSignal
		if config.MqttBroker != "" {
			s.tap = linetap.New(dao, s.metrics, logger)
			signal = s.tap
		}
		return local.New(dao, signal, config.LocalInterval, config.CallTimeout, logger), nil

	default:
		return nil, fmt.Errorf("不支持的数据源%s", config.Backend)
	}
}
