package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	hr "github.com/julienschmidt/httprouter"
	"github.com/oklog/ulid/v2"
	log "github.com/sirupsen/logrus"
	"wuyrush.io/note/common/logging"
	cst "wuyrush.io/note/constants"
	ne "wuyrush.io/note/errors"
)

const HeaderRequestID = "X-Request-ID"

type Middleware func(hr.Handle) hr.Handle

// Chain composites given handler and middlewares. The last middleware given is the outermost one.
func Chain(h hr.Handle, ms ...Middleware) hr.Handle {
	for _, m := range ms {
		h = m(h)
	}
	return h
}

// PanicRecoverer recovers from panic of underlying handlers
func PanicRecoverer() Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.FromContext(r.Context()).WithField("panicReason", rec).Error("got panic from underlying handler")
					WriteError(w, ne.NewServiceFailure("internal error"))
				}
			}()
			h(w, r, p)
		}
	}
}

// RequestID tags each request with a ULID, reusing the one supplied by the client if any.
func RequestID() Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			id := r.Header.Get(HeaderRequestID)
			if id == "" {
				id = ulid.Make().String()
			}
			w.Header().Set(HeaderRequestID, id)
			ctx := logging.WithFields(r.Context(), log.Fields{cst.LogFieldRequestID: id})
			h(w, r.WithContext(ctx), p)
		}
	}
}

// RequestLogger logs one line per request once the underlying handler returns.
func RequestLogger() Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			start := time.Now()
			sw := wrap(w)
			h(sw, r, p)
			logging.FromContext(r.Context()).WithFields(log.Fields{
				"method":    r.Method,
				"path":      r.URL.Path,
				"status":    sw.status,
				"latencyMs": time.Since(start).Milliseconds(),
			}).Info("served request")
		}
	}
}

// BodyLimiter caps the size of request bodies read by underlying handlers.
func BodyLimiter(maxBytes int64) Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			if maxBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			h(w, r, p)
		}
	}
}

// Observer records the outcome of a served request.
type Observer interface {
	ObserveRequest(route, method string, status int, elapsed time.Duration)
	InFlight(route string, delta float64)
}

// Instrument reports requests served by the route to o.
func Instrument(route string, o Observer) Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			o.InFlight(route, 1)
			defer o.InFlight(route, -1)
			start := time.Now()
			sw := wrap(w)
			h(sw, r, p)
			o.ObserveRequest(route, r.Method, sw.status, time.Since(start))
		}
	}
}

// Authenticator identifies the principal behind a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// Principal returns the principal attached by Authn, or "" for anonymous requests.
func Principal(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}

// Authn rejects requests a does not recognize with 401.
func Authn(a Authenticator) Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			principal, err := a.Authenticate(r)
			if err != nil {
				logging.FromContext(r.Context()).WithError(err).Debug("unauthenticated request")
				WriteError(w, ne.NewUnauthorized("authentication required"))
				return
			}
			ctx := WithPrincipal(r.Context(), principal)
			ctx = logging.WithFields(ctx, log.Fields{cst.LogFieldPrincipal: principal})
			h(w, r.WithContext(ctx), p)
		}
	}
}

type errBody struct {
	Error string `json:"error"`
}

// WriteError responds with err's status code and message. Messages of service failures are not
// echoed to clients.
func WriteError(w http.ResponseWriter, err error) {
	code := ne.StatusCode(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = http.StatusText(code)
	}
	WriteJSON(w, code, errBody{Error: msg})
}

func WriteJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.WithFuncName().WithError(err).Warn("failed to write response body")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func wrap(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
