package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version 构建时通过 -ldflags "-X main.Version=..." 注入
var Version = "dev"

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tension",
		Short:         "风险、怀疑与危机模拟引擎",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径（默认查找 ./config.yaml 与 ./configs/config.yaml）")
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	root.AddCommand(newServeCmd(), newValidateCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "打印版本号",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
