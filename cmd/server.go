/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"github.com/packagewjx/spc-monitor/internal/server"
	"github.com/packagewjx/spc-monitor/pkg/core"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	FlagPort             = "port"
	FlagBackend          = "backend"
	FlagRemoteUrl        = "remote-url"
	FlagRemoteInterval   = "remote-interval"
	FlagDocstoreInterval = "docstore-interval"
	FlagLocalInterval    = "local-interval"
	FlagFollowInterval   = "follow-interval"
	FlagRefreshInterval  = "refresh-interval"
	FlagCallTimeout      = "call-timeout"
	FlagDefaultSku       = "default-sku"
	FlagDiscover         = "discover"
	FlagFollow           = "follow"
	FlagRedisAddr        = "redis-addr"
	FlagRedisPassword    = "redis-password"
	FlagRedisDB          = "redis-db"
	FlagDatabase         = "database"
	FlagDsn              = "dsn"
	FlagMqttBroker       = "mqtt-broker"
	FlagMqttClientId     = "mqtt-client-id"
	FlagRetention        = "retention"
	FlagLogLevel         = "log-level"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "SPC看板服务器",
	Long: "服务器按照backend指定的数据源观察当前SKU的灌装周期、SPC状态与报警，合并为看板快照，\n" +
		"并通过HTTP与websocket提供给展示端。discover打开时启动时从数据源获取当前SKU，\n" +
		"follow打开时跟随数据源的SKU变化并定时刷新。配置可以来自参数、配置文件或SPC_开头的环境变量。\n",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := server.NewServer(&server.ServerConfig{
			Port:             uint16(viper.GetUint(FlagPort)),
			Backend:          viper.GetString(FlagBackend),
			RemoteUrl:        viper.GetString(FlagRemoteUrl),
			RemoteInterval:   viper.GetDuration(FlagRemoteInterval),
			DocstoreInterval: viper.GetDuration(FlagDocstoreInterval),
			LocalInterval:    viper.GetDuration(FlagLocalInterval),
			FollowInterval:   viper.GetDuration(FlagFollowInterval),
			RefreshInterval:  viper.GetDuration(FlagRefreshInterval),
			CallTimeout:      viper.GetDuration(FlagCallTimeout),
			DefaultSku:       viper.GetString(FlagDefaultSku),
			Discover:         viper.GetBool(FlagDiscover),
			Follow:           viper.GetBool(FlagFollow),
			RedisAddr:        viper.GetString(FlagRedisAddr),
			RedisPassword:    viper.GetString(FlagRedisPassword),
			RedisDB:          viper.GetInt(FlagRedisDB),
			Database:         viper.GetString(FlagDatabase),
			Dsn:              viper.GetString(FlagDsn),
			MqttBroker:       viper.GetString(FlagMqttBroker),
			MqttClientId:     viper.GetString(FlagMqttClientId),
			Retention:        viper.GetDuration(FlagRetention),
			LogLevel:         viper.GetString(FlagLogLevel),
		})
		if err != nil {
			return err
		}

		return s.Start()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.Uint16P(FlagPort, "p", server.DefaultPort, "服务端口号")
	flags.StringP(FlagBackend, "b", server.DefaultBackend, "数据源，可选remote、docstore与local")
	flags.String(FlagRemoteUrl, server.DefaultRemoteUrl, "SPC后端地址，remote数据源使用")
	flags.Duration(FlagRemoteInterval, server.DefaultRemoteInterval, "remote数据源的轮询间隔")
	flags.Duration(FlagDocstoreInterval, server.DefaultDocstoreInterval, "docstore数据源的轮询间隔")
	flags.Duration(FlagLocalInterval, server.DefaultLocalInterval, "local数据源检查变化的间隔")
	flags.Duration(FlagFollowInterval, server.DefaultFollowInterval, "跟随数据源SKU变化的轮询间隔")
	flags.Duration(FlagRefreshInterval, server.DefaultRefreshInterval, "跟随模式下刷新当前SKU的间隔")
	flags.Duration(FlagCallTimeout, server.DefaultCallTimeout, "每次调用数据源的超时时间")
	flags.String(FlagDefaultSku, core.DefaultSku, "无法从数据源获取SKU时使用的SKU")
	flags.Bool(FlagDiscover, true, "启动时从数据源获取当前SKU")
	flags.Bool(FlagFollow, true, "跟随数据源的SKU变化并定时刷新")
	flags.String(FlagRedisAddr, server.DefaultRedisAddr, "Redis地址，docstore数据源使用")
	flags.String(FlagRedisPassword, "", "Redis密码")
	flags.Int(FlagRedisDB, 0, "Redis数据库编号")
	flags.String(FlagDatabase, server.DefaultDatabase, "本地数据库类型，可选sqlite与mysql")
	flags.String(FlagDsn, server.DefaultDsn, "本地数据库连接串，local数据源使用")
	flags.String(FlagMqttBroker, "", "产线MQTT broker地址，例如tcp://localhost:1883。为空时不订阅产线事件")
	flags.String(FlagMqttClientId, server.DefaultMqttClientId, "MQTT客户端ID")
	flags.Duration(FlagRetention, server.DefaultRetention, "本地周期数据保留时长，为0时不清理")
	flags.String(FlagLogLevel, server.DefaultLogLevel, "日志级别，可选debug、info、warn与error")

	_ = viper.BindPFlags(flags)
}
