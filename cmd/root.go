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
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	FlagConfig = "config"
	FlagEnv    = "env-file"
)

const envPrefix = "SPC"

var cfgFile string
var envFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "spc-monitor",
	Short: "灌装线SPC看板服务",
	Long: "监控灌装线当前SKU的灌装周期、SPC状态与报警，并支持操作员发起校正。\n" +
		"数据源可以是远程SPC后端、Redis实时文档库或本地数据库。",
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, FlagConfig, "",
		"配置文件，默认为$HOME/.spc-monitor.yaml")
	rootCmd.PersistentFlags().StringVar(&envFile, FlagEnv, ".env",
		"环境变量文件，不存在时忽略")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// .env中的变量不覆盖已有的环境变量
	if envFile != "" {
		if err := godotenv.Load(envFile); err == nil {
			fmt.Fprintln(os.Stderr, "已加载环境变量文件:", envFile)
		}
	}

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".spc-monitor" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".spc-monitor")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
