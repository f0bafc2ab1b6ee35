package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"wuyrush.io/note/common/logging"
	"wuyrush.io/note/workers/purger"
)

var flagPurgerMetricsAddr string

var purgerCmd = &cobra.Command{
	Use:   "purger",
	Short: "Physically delete notes whose destruct deadline has elapsed",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.SetupLog("NotePurger")
		clog := logging.WithFuncName()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d, err := setupDeps(ctx, cfg, "purger")
		if err != nil {
			return err
		}
		defer d.Close()
		if flagPurgerMetricsAddr != "" {
			go func() {
				if err := http.ListenAndServe(flagPurgerMetricsAddr, d.metrics.Handler()); err != nil {
					clog.WithError(err).Error("error serving purger metrics")
				}
			}()
		}
		p := purger.New(d.lifecycleManager(), purger.Options{
			SweepFreq:      cfg.PurgerSweepFreq,
			MaxLoad:        cfg.PurgerMaxSweepLoad,
			ExecPoolSize:   cfg.PurgerExecPoolSize,
			LocalCacheSize: cfg.PurgerLocalCacheSize,
			WIPExpiry:      cfg.PurgerWIPCacheEntryExp,
			FullScanEvery:  60,
		})
		if err := p.Run(ctx); err != nil {
			clog.WithError(err).Error("error running purger")
			return err
		}
		return nil
	},
}

func init() {
	purgerCmd.Flags().StringVar(&flagPurgerMetricsAddr, "metrics-addr", "", "serve purger metrics at this address")
}
