package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hcpa/caixas/internal/bot"
	"github.com/hcpa/caixas/internal/ledger"
	"github.com/hcpa/caixas/internal/models"
	"github.com/hcpa/caixas/internal/render"
	"github.com/hcpa/caixas/internal/web"
)

func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot and the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: withApp(cfgFile, func(cmd *cobra.Command, _ []string, a *app) error {
			g, ctx := errgroup.WithContext(cmd.Context())

			g.Go(func() error {
				return web.NewServer(a.ledger, a.logger).ListenAndServe(ctx, a.cfg.HTTP.Addr)
			})

			if a.cfg.Telegram.Token == "" {
				a.logger.Warn("telegram.token not set, bot disabled")
			} else {
				telegramBot, err := bot.New(bot.Config{
					Token:    a.cfg.Telegram.Token,
					TeamChat: a.cfg.Telegram.TeamChatID,
				}, a.ledger, a.logger)
				if err != nil {
					return err
				}
				g.Go(func() error { return telegramBot.Run(ctx) })
				g.Go(func() error {
					telegramBot.RunDigest(ctx, a.cfg.Telegram.DigestInterval.Duration)
					return nil
				})
			}

			a.logger.Info("service running",
				zap.String("store", a.cfg.Store.Driver),
				zap.String("http_addr", a.cfg.HTTP.Addr))
			return g.Wait()
		}),
	}
}

func newNotifyCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:     "notify <volume> <setor...>",
		Short:   "Open a pickup request for a sector (volume: 5, 10 or +10)",
		Example: "  caixas notify 10 Emergência",
		Args:    cobra.MinimumNArgs(2),
		RunE: withApp(cfgFile, func(cmd *cobra.Command, args []string, a *app) error {
			volume, err := models.ParseVolume(args[0])
			if err != nil {
				return reportError(cmd, &ledger.ValidationError{Field: "volume", Reason: err.Error()}, ledger.CollectionResult{})
			}
			sector := models.NormalizeSector(strings.Join(args[1:], " "))

			req, err := a.ledger.ReportAccumulation(cmd.Context(), sector, volume, time.Now())
			if err != nil {
				return reportError(cmd, err, ledger.CollectionResult{})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), render.Notified(req))
			return err
		}),
	}
}

func newPendingCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List the open pickup requests",
		Args:  cobra.NoArgs,
		RunE: withApp(cfgFile, func(cmd *cobra.Command, _ []string, a *app) error {
			pending, err := a.ledger.ListPending(cmd.Context())
			if err != nil {
				return reportError(cmd, err, ledger.CollectionResult{})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), render.PendingPanel(pending))
			return err
		}),
	}
}

func newCollectCmd(cfgFile *string) *cobra.Command {
	var (
		badge    string
		quantity int
		cleared  bool
	)

	cmd := &cobra.Command{
		Use:     "collect <setor...>",
		Short:   "Log a pickup and close the sector's oldest request when the site was cleared",
		Example: "  caixas collect --cracha 12345 --quantidade 8 --limpo Emergência",
		Args:    cobra.MinimumNArgs(1),
		RunE: withApp(cfgFile, func(cmd *cobra.Command, args []string, a *app) error {
			// without --limpo the flag is unknown, not false
			var siteCleared *bool
			if cmd.Flags().Changed("limpo") {
				siteCleared = &cleared
			}

			record := models.CollectionRecord{
				Badge:    badge,
				Sector:   models.NormalizeSector(strings.Join(args, " ")),
				Quantity: quantity,
			}
			result, err := a.ledger.RecordCollection(cmd.Context(), record, siteCleared)
			if err != nil {
				return reportError(cmd, err, result)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), render.Collection(result))
			return err
		}),
	}

	cmd.Flags().StringVar(&badge, "cracha", "", "Collector badge number (cartão ponto)")
	cmd.Flags().IntVar(&quantity, "quantidade", 0, "Number of boxes collected")
	cmd.Flags().BoolVar(&cleared, "limpo", false, "Site left clear; closes the open request")
	_ = cmd.MarkFlagRequired("cracha")
	return cmd
}

// reportError prints the user-facing message and returns err so the
// process exits non-zero.
func reportError(cmd *cobra.Command, err error, result ledger.CollectionResult) error {
	fmt.Fprintln(cmd.ErrOrStderr(), render.Error(err, result))
	return err
}
