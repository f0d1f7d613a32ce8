package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

func newParamsCmd() *cobra.Command {
	var author string

	cmd := &cobra.Command{
		Use:   "params",
		Short: "Inspect and mutate live parameters",
	}
	cmd.PersistentFlags().StringVar(&author, "author", defaultAuthor(), "author recorded in the audit log")

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the current parameter snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			snap := a.cfg.Get()
			values := snap.Values()
			keys := make([]string, 0, len(values))
			for k := range values {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(cmd.OutOrStdout(), "revision %d\n", snap.Revision)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", k, values[k])
			}
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Apply a single parameter change",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.cfg.Apply(cmd.Context(), map[string]any{args[0]: args[1]}, author, "cli")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %s = %v (revision %d)\n", args[0], res.Applied[args[0]], res.Revision)
			return nil
		},
	}

	apply := &cobra.Command{
		Use:   "apply <delta-json>",
		Short: "Apply a multi-parameter delta atomically",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var delta map[string]any
			if err := json.Unmarshal([]byte(args[0]), &delta); err != nil {
				return fmt.Errorf("delta is not valid JSON: %w", err)
			}
			a, err := buildApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.cfg.Apply(cmd.Context(), delta, author, "cli")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d parameter(s), revision %d\n", len(res.Applied), res.Revision)
			return nil
		},
	}

	rollback := &cobra.Command{
		Use:   "rollback",
		Short: "Restore the previous parameter snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.cfg.Rollback(cmd.Context(), author, "cli")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back, revision %d\n", res.Revision)
			return nil
		},
	}

	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "Show recent parameter mutations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.cfg.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, rec := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "r%d %s %s by %s (%s): %s\n",
					rec.Revision, rec.Timestamp.Format("2006-01-02 15:04:05"),
					rec.Action, rec.Author, rec.SourceTag, rec.DeltaJSON)
			}
			return nil
		},
	}
	history.Flags().IntVar(&limit, "limit", 20, "number of audit entries to show")

	cmd.AddCommand(get, set, apply, rollback, history)
	return cmd
}

func defaultAuthor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
