package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aiwuxian/abyss-tension/internal/config"
	"github.com/aiwuxian/abyss-tension/internal/content"
)

func newValidateCmd() *cobra.Command {
	var contentPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "校验配置与内容包",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if contentPath == "" {
				contentPath = cfg.Content.Path
			}

			f, err := os.Open(contentPath)
			if err != nil {
				return fmt.Errorf("读取内容包失败: %w", err)
			}
			defer f.Close()

			pack, err := content.Decode(f)
			if err != nil {
				return fmt.Errorf("解析内容包 %s 失败: %w", contentPath, err)
			}
			// 一次列出全部问题，每行一条
			if err := pack.Validate(); err != nil {
				return fmt.Errorf("内容包 %s 校验失败: %w", contentPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d crisis templates, %d global modifiers)\n",
				contentPath, len(pack.CrisisTemplates), len(pack.ModifierProfiles.Global))
			return nil
		},
	}
	cmd.Flags().StringVar(&contentPath, "content", "", "内容包路径（默认取配置中的content.path）")
	return cmd
}
