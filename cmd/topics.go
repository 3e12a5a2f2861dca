package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"wabridge/pkg/config"
	"wabridge/pkg/logger"
	"wabridge/pkg/store"
	"wabridge/pkg/ui/report"

	"github.com/spf13/cobra"
)

const topicsTimeout = 30 * time.Second

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List conversation to topic mappings",
	Long:  "Opens the configured store read-only and prints every conversation mapping, the status and call topics, and row counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), topicsTimeout)
		defer cancel()

		st, err := store.Open(ctx, cfg.Database, logger.Discard())
		if err != nil {
			return err
		}
		defer st.Close(context.Background())

		return printTopics(ctx, cmd.OutOrStdout(), st)
	},
}

func init() {
	rootCmd.AddCommand(topicsCmd)
}

func printTopics(ctx context.Context, w io.Writer, st store.Store) error {
	mappings, err := st.TopicMappings(ctx)
	if err != nil {
		return err
	}
	special, err := st.SpecialTopics(ctx)
	if err != nil {
		return err
	}
	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprint(w, report.Topics(mappings, special, stats))
	return err
}
