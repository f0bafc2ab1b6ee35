package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"wuyrush.io/note/common/logging"
	cst "wuyrush.io/note/constants"
	"wuyrush.io/note/reader"
)

var readerCmd = &cobra.Command{
	Use:   "reader",
	Short: "Serve share links to the public",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.SetupLog("NoteReader")
		if !cfg.Verbose {
			gin.SetMode(gin.ReleaseMode)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d, err := setupDeps(ctx, cfg, "reader")
		if err != nil {
			return err
		}
		defer d.Close()
		r := &reader.Reader{Links: d.shareBroker(cfg.PublicBaseURL), Metrics: d.metrics}
		r.SetupRoutes()
		if err := r.Serve(ctx, cfg.ReaderAddr()); err != nil {
			logging.WithFuncName().WithError(err).Error("error serving share links")
			return err
		}
		return nil
	},
}

func init() {
	readerCmd.Flags().Int("port", 0, "port of the share reader")
	mustBind(readerCmd, cst.EnvReaderPort, "port")
}
