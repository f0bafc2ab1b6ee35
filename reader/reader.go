// Package reader serves share links to the public. It holds no credentials of its own: the token
// in the path is the only capability a reader presents, and it works once.
package reader

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
	"wuyrush.io/note/common/logging"
	mw "wuyrush.io/note/common/middleware"
	cst "wuyrush.io/note/constants"
	ne "wuyrush.io/note/errors"
	"wuyrush.io/note/metrics"
	md "wuyrush.io/note/models"
)

const routeShare = "/share/:token"

// Resolver consumes share tokens.
type Resolver interface {
	ResolveShareLink(ctx context.Context, token string) (*md.Note, error)
}

// Reader handles the read traffic of share links.
type Reader struct {
	Links   Resolver
	Metrics *metrics.Metrics
	Router  *gin.Engine
}

// SharedNote is what a share link reveals of a note.
type SharedNote struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r *Reader) SetupRoutes() {
	rt := gin.New()
	rt.Use(recoverer(), requestID(), requestLogger())
	rt.GET(routeShare, r.HandleGetSharedNote)
	rt.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if r.Metrics != nil {
		rt.GET("/metrics", gin.WrapH(r.Metrics.Handler()))
	}
	r.Router = rt
}

func (r *Reader) HandleGetSharedNote(c *gin.Context) {
	start := time.Now()
	r.Metrics.InFlight(routeShare, 1)
	defer func() {
		r.Metrics.InFlight(routeShare, -1)
		r.Metrics.ObserveRequest(routeShare, c.Request.Method, c.Writer.Status(), time.Since(start))
	}()
	// consumed links must not linger in caches or leak through referrers
	c.Header("Cache-Control", "no-store")
	c.Header("Referrer-Policy", "no-referrer")
	n, err := r.Links.ResolveShareLink(c.Request.Context(), c.Param("token"))
	if err != nil {
		code, msg := ne.StatusCode(err), err.Error()
		if code == http.StatusInternalServerError {
			msg = http.StatusText(code)
		}
		c.JSON(code, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, SharedNote{Title: n.Title, Content: n.Content, UpdatedAt: n.UpdatedAt})
}

func recoverer() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.FromContext(c.Request.Context()).WithField("panicReason", rec).Error("got panic from underlying handler")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": http.StatusText(http.StatusInternalServerError)})
			}
		}()
		c.Next()
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(mw.HeaderRequestID)
		if id == "" {
			id = ulid.Make().String()
		}
		c.Header(mw.HeaderRequestID, id)
		ctx := logging.WithFields(c.Request.Context(), log.Fields{cst.LogFieldRequestID: id})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// requestLogger logs requests without their path: it carries the share token.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.FromContext(c.Request.Context()).WithFields(log.Fields{
			"method":    c.Request.Method,
			"route":     c.FullPath(),
			"status":    c.Writer.Status(),
			"latencyMs": time.Since(start).Milliseconds(),
		}).Info("served request")
	}
}

// Serve serves requests at addr until ctx is canceled.
func (r *Reader) Serve(ctx context.Context, addr string) error {
	if r.Router == nil {
		r.SetupRoutes()
	}
	svr := &http.Server{
		Addr:              addr,
		Handler:           r.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		errs <- svr.ListenAndServe()
	}()
	log.WithField("addr", addr).Info("note reader is starting up")
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return svr.Shutdown(sctx)
}
