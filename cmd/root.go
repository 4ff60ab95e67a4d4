package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/linkloft/linkloft/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "linkloft",
	Short: "Bookmark metadata enrichment pipeline",
	Long:  "Resolves bookmarked URLs, extracts page metadata, classifies repository and documentation links, and keeps repository stats fresh on a schedule.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
