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
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/packagewjx/spc-monitor/pkg/client"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const FlagAddr = "addr"

var apiAddr string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "输出当前的看板快照",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := client.NewApiClient(apiAddr).Snapshot(cmd.Context())
		if err != nil {
			return err
		}
		return printJson(cmd.OutOrStdout(), s)
	},
}

var skuCmd = &cobra.Command{
	Use:   "sku",
	Short: "输出当前选择的SKU",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sku, err := client.NewApiClient(apiAddr).Sku(cmd.Context())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), sku)
		return err
	},
}

var selectCmd = &cobra.Command{
	Use:   "select SKU",
	Short: "切换看板的SKU",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sku, err := client.NewApiClient(apiAddr).SelectSku(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), sku)
		return err
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "请求数据源刷新当前SKU的数据",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := client.NewApiClient(apiAddr).Refresh(cmd.Context())
		if err != nil {
			return err
		}
		return printJson(cmd.OutOrStdout(), s)
	},
}

var correctCmd = &cobra.Command{
	Use:   "correct",
	Short: "对当前SKU发起校正",
	Long:  "对当前SKU发起校正，并输出校正结束后的看板快照。校正失败时快照的error字段不为空，命令以非零状态退出。",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := client.NewApiClient(apiAddr).ApplyCorrection(cmd.Context())
		if err != nil {
			return err
		}
		if err = printJson(cmd.OutOrStdout(), s); err != nil {
			return err
		}
		if msg := s.ErrorMessage(); msg != "" {
			return errors.New(msg)
		}
		return nil
	},
}

func printJson(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return errors.Wrap(encoder.Encode(v), "输出json出错")
}

func init() {
	defaultAddr := os.Getenv("SPC_ADDR")
	if defaultAddr == "" {
		defaultAddr = client.DefaultApiHostBaseUrl
	}

	for _, c := range []*cobra.Command{snapshotCmd, skuCmd, selectCmd, refreshCmd, correctCmd} {
		c.Flags().StringVarP(&apiAddr, FlagAddr, "a", defaultAddr, "监控服务的地址")
		rootCmd.AddCommand(c)
	}
}
