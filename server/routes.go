package server

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	mw "wuyrush.io/note/common/middleware"
)

// route wraps h with the middlewares every owner route goes through. Routes are labeled with their
// pattern so that metrics do not grow with note ids.
func (s *Server) route(pattern string, h httprouter.Handle) httprouter.Handle {
	return mw.Chain(h,
		mw.BodyLimiter(s.Limits.ReqBodySizeMaxByte),
		mw.Authn(s.Auth),
		mw.Instrument(pattern, s.Metrics),
		mw.RequestLogger(),
		mw.RequestID(),
		mw.PanicRecoverer(),
	)
}

// SetupMux sets up routes
func (s *Server) SetupMux() {
	r := httprouter.New()
	// notes
	r.POST("/notes", s.route("/notes", s.HandleCreateNote()))
	r.GET("/notes", s.route("/notes", s.HandleListNotes()))
	r.GET("/notes/:id", s.route("/notes/:id", s.HandleGetNote()))
	r.PATCH("/notes/:id", s.route("/notes/:id", s.HandleEditNote()))
	r.DELETE("/notes/:id", s.route("/notes/:id", s.HandleDeleteNoteForever()))
	r.PUT("/notes/:id/pin", s.route("/notes/:id/pin", s.HandleSetPinned()))
	r.POST("/notes/:id/trash", s.route("/notes/:id/trash", s.HandleTrashNote()))
	r.POST("/notes/:id/restore", s.route("/notes/:id/restore", s.HandleRestoreNote()))
	r.PUT("/notes/:id/destruct", s.route("/notes/:id/destruct", s.HandleSetDestructTimer()))
	r.POST("/notes/:id/share", s.route("/notes/:id/share", s.HandleShareNote()))
	r.PUT("/notes/:id/readers/:reader", s.route("/notes/:id/readers/:reader", s.HandleGrantRead()))
	r.DELETE("/notes/:id/readers/:reader", s.route("/notes/:id/readers/:reader", s.HandleRevokeRead()))
	r.GET("/trash", s.route("/trash", s.HandleListTrash()))
	// catalog
	r.POST("/categories", s.route("/categories", s.HandleCreateCategory()))
	r.GET("/categories", s.route("/categories", s.HandleListCategories()))
	r.GET("/categories/:ref", s.route("/categories/:ref", s.HandleGetCategory()))
	r.PATCH("/categories/:ref", s.route("/categories/:ref", s.HandleUpdateCategory()))
	r.DELETE("/categories/:ref", s.route("/categories/:ref", s.HandleDeleteCategory()))
	r.GET("/category-tree", s.route("/category-tree", s.HandleCategoryTree()))
	r.GET("/tags", s.route("/tags", s.HandleListTags()))
	// ops
	r.GET("/healthz", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		mw.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.Metrics != nil {
		r.Handler(http.MethodGet, "/metrics", s.Metrics.Handler())
	}
	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mw.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "no such route"})
	})
	s.Router = r
}
