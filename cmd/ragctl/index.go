package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"grantrag/internal/bootstrap"
)

func newIndexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Build the index from the document store and report its size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			engine := bootstrap.NewEngine(cfg, bootstrap.NewLLMClient(cfg), log)

			start := time.Now()
			idx, err := engine.BuildIndex(cmd.Context(), cfg.DocStore.Dir)
			if err != nil {
				return fmt.Errorf("build index failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents into %d chunks in %s\n",
				idx.Documents, idx.Len(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
