package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"wuyrush.io/note/auth"
	"wuyrush.io/note/common/logging"
	"wuyrush.io/note/common/middleware"
	cst "wuyrush.io/note/constants"
	ne "wuyrush.io/note/errors"
	"wuyrush.io/note/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the owner API",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.SetupLog("NoteServer")
		clog := logging.WithFuncName()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		authn, err := setupAuth()
		if err != nil {
			return err
		}
		d, err := setupDeps(ctx, cfg, "server")
		if err != nil {
			return err
		}
		defer d.Close()
		svc := d.noteService(cfg.PublicBaseURL)
		svr := &server.Server{
			Notes:   svc,
			Catalog: svc.Catalog,
			Auth:    authn,
			Metrics: d.metrics,
			Limits: server.Limits{
				ReqBodySizeMaxByte:     cfg.ReqBodySizeMaxByte,
				NoteTitleSizeMaxByte:   cfg.NoteTitleSizeMaxByte,
				NoteContentSizeMaxByte: cfg.NoteContentSizeMaxByte,
			},
		}
		svr.SetupMux()
		if err := svr.Serve(ctx, cfg.Addr()); err != nil {
			clog.WithError(err).Error("error serving owner API")
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "port of the owner API")
	mustBind(serveCmd, cst.EnvAppPort, "port")
}

// setupAuth accepts bearer tokens and session cookies, whichever is configured.
func setupAuth() (middleware.Authenticator, error) {
	var as auth.First
	if cfg.JWTSecret != "" {
		as = append(as, &auth.JWT{Secret: []byte(cfg.JWTSecret)})
	}
	if cfg.SessionKey != "" {
		as = append(as, auth.NewCookieSession([]byte(cfg.SessionKey)))
	}
	if len(as) == 0 {
		return nil, ne.NewBadInput("one of " + cst.EnvJWTSecret + " and " + cst.EnvSessionKey + " must be set")
	}
	return as, nil
}
