// Package server serves the owner API of note service: authenticated JSON routes over notes,
// categories, tags and share links.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
	"wuyrush.io/note/catalog"
	"wuyrush.io/note/common/logging"
	"wuyrush.io/note/common/middleware"
	"wuyrush.io/note/metrics"
	"wuyrush.io/note/notes"
)

// Limits caps the size of what owners may submit. Zero values disable the corresponding check.
type Limits struct {
	ReqBodySizeMaxByte     int64
	NoteTitleSizeMaxByte   int
	NoteContentSizeMaxByte int
}

type Server struct {
	Notes   *notes.Service
	Catalog *catalog.Service
	Auth    middleware.Authenticator
	Metrics *metrics.Metrics
	Limits  Limits
	Router  *httprouter.Router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Serve serves requests at addr until ctx is canceled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	if s.Router == nil {
		s.SetupMux()
	}
	svr := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		errs <- svr.ListenAndServe()
	}()
	log.WithField("addr", addr).Info("note server is starting up")
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	clog := logging.WithFuncName()
	clog.Info("shutting down note server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svr.Shutdown(sctx); err != nil {
		clog.WithError(err).Error("error shutting down note server")
		return err
	}
	return nil
}
