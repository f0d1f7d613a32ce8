package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/catalystbot/catalystbot/internal/control"
)

// serve-interactions runs only the signed-interactions endpoint, for
// deployments where the pipeline and the control surface are split.
func newServeInteractionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-interactions",
		Short: "Serve the signed interactions endpoint without the pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rt := &a.file.Runtime
			addr := rt.Interactions.ListenAddr
			if addr == "" {
				return configErr(errors.New("interactions listen address not configured"))
			}
			ctl, err := control.NewServer(a.cfg, rt.Interactions.PublicKeyHex)
			if err != nil {
				return dependencyErr(fmt.Errorf("interactions endpoint cannot start unverified: %w", err))
			}

			errCh := make(chan error, 1)
			go func() { errCh <- ctl.Start(addr) }()
			log.Info().Str("addr", addr).Msg("interactions endpoint listening")

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return dependencyErr(err)
				}
			}

			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return ctl.Shutdown(shutCtx)
		},
	}
}
