package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
)

// Exit codes for the runner process.
const (
	exitConfigInvalid = 1
	exitDependency    = 2
)

var cfgPath string

type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }
func (e *exitErr) Unwrap() error { return e.err }

func configErr(err error) error     { return &exitErr{code: exitConfigInvalid, err: err} }
func dependencyErr(err error) error { return &exitErr{code: exitDependency, err: err} }

func exitCode(err error) int {
	var ee *exitErr
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// Execute runs the CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:           "catalystbot",
		Short:         "Continuous market-catalyst surveillance and alerting",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config/default.yaml", "bootstrap config file")

	root.AddCommand(
		newRunCmd(),
		newScanCmd(),
		newParamsCmd(),
		newReportCmd(),
		newServeInteractionsCmd(),
	)
	return root.ExecuteContext(ctx)
}
