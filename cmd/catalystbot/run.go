package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/catalystbot/catalystbot/internal/config"
	"github.com/catalystbot/catalystbot/internal/control"
	"github.com/catalystbot/catalystbot/internal/heartbeat"
)

const drainGrace = 30 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the continuous surveillance loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rt := &a.file.Runtime
			if rt.Webhook.URL == "" {
				return dependencyErr(errors.New("webhook url not configured"))
			}
			var ctl *control.Server
			if addr := rt.Interactions.ListenAddr; addr != "" {
				ctl, err = control.NewServer(a.cfg, rt.Interactions.PublicKeyHex)
				if err != nil {
					return dependencyErr(fmt.Errorf("interactions endpoint cannot start unverified: %w", err))
				}
				go func() {
					if err := ctl.Start(addr); err != nil {
						log.Error().Err(err).Msg("control surface stopped")
					}
				}()
			}
			if addr := rt.MetricsAddr; addr != "" {
				go func() {
					if err := a.metrics.Start(addr); err != nil {
						log.Error().Err(err).Msg("metrics endpoint stopped")
					}
				}()
			}
			go heartbeat.Schedule(ctx, a.cfg.Get().Int(config.KeyReportHourUTC), a.postReport)

			a.engine.Run(ctx)

			// Shutdown signal received: give in-flight deliveries and the
			// servers a bounded grace window.
			drainCtx, cancel := context.WithTimeout(context.Background(), drainGrace)
			defer cancel()
			if s := a.accum.Flush(); s.Cycles > 0 {
				a.emitHeartbeat(s)
			}
			if ctl != nil {
				if err := ctl.Shutdown(drainCtx); err != nil {
					log.Warn().Err(err).Msg("control surface shutdown failed")
				}
			}
			if err := a.metrics.Shutdown(drainCtx); err != nil {
				log.Warn().Err(err).Msg("metrics shutdown failed")
			}
			log.Info().Msg("shutdown complete")
			return nil
		},
	}
}
