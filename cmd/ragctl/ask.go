package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"grantrag/internal/app"
	"grantrag/internal/bootstrap"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			a, err := bootstrap.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			query, err := a.Queries.Validate(map[string]interface{}{"query": strings.Join(args, " ")})
			if err != nil {
				return err
			}
			answer, err := a.Queries.Answer(cmd.Context(), query)
			switch {
			case errors.Is(err, app.ErrNoRelevantChunks):
				fmt.Fprintln(cmd.OutOrStdout(), "No relevant information found for your query.")
				return nil
			case err != nil:
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, answer.Response)
			if len(answer.Sources) > 0 {
				fmt.Fprintf(out, "\nSources: %s\n", strings.Join(answer.Sources, ", "))
			}
			return nil
		},
	}
}
