package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	hr "github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPanicRecover(t *testing.T) {
	wrec, req := httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fake", nil)
	prm := hr.Param{Key: "foo", Value: "bar"}
	cnt := 0
	touch := func() { cnt++ }
	h := func(w http.ResponseWriter, r *http.Request, p hr.Params) {
		touch()
		// params are passed through as expected
		assert.Equal(t, wrec, w, "unexpected response writer")
		assert.Equal(t, req, r, "unexpected request value")
		assert.Equal(t, hr.Params{prm}, p, "unexpected request value")
		panic("boom!")
	}
	wrapped := Chain(h, PanicRecoverer())

	wrapped(wrec, req, hr.Params{prm})
	assert.Equal(t, 1, cnt, "underlyig handler not called by middleware")
	assert.Equal(t, http.StatusInternalServerError, wrec.Code)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := func(w http.ResponseWriter, r *http.Request, p hr.Params) {
		seen = w.Header().Get(HeaderRequestID)
	}
	wrapped := Chain(h, RequestID())

	wrec := httptest.NewRecorder()
	wrapped(wrec, httptest.NewRequest(http.MethodGet, "/fake", nil), nil)
	assert.Len(t, seen, 26, "expected a ULID request id")
	assert.Equal(t, seen, wrec.Header().Get(HeaderRequestID))

	wrec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fake", nil)
	req.Header.Set(HeaderRequestID, "client-id")
	wrapped(wrec, req, nil)
	assert.Equal(t, "client-id", wrec.Header().Get(HeaderRequestID))
}

type fakeAuthenticator map[string]string

func (f fakeAuthenticator) Authenticate(r *http.Request) (string, error) {
	if p, ok := f[r.Header.Get("Authorization")]; ok {
		return p, nil
	}
	return "", fmt.Errorf("unknown credential")
}

func TestAuthn(t *testing.T) {
	a := fakeAuthenticator{"Bearer good": "alice"}
	var principal string
	h := func(w http.ResponseWriter, r *http.Request, p hr.Params) {
		principal = Principal(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}
	wrapped := Chain(h, Authn(a))
	tcs := []struct {
		name      string
		header    string
		code      int
		principal string
	}{
		{name: "Authenticated", header: "Bearer good", code: http.StatusNoContent, principal: "alice"},
		{name: "Unknown", header: "Bearer bad", code: http.StatusUnauthorized},
		{name: "Missing", code: http.StatusUnauthorized},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			principal = ""
			wrec, req := httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fake", nil)
			if c.header != "" {
				req.Header.Set("Authorization", c.header)
			}
			wrapped(wrec, req, nil)
			assert.Equal(t, c.code, wrec.Code)
			assert.Equal(t, c.principal, principal)
		})
	}
}

func TestBodyLimiter(t *testing.T) {
	var readErr error
	h := func(w http.ResponseWriter, r *http.Request, p hr.Params) {
		buf := make([]byte, 64)
		for readErr == nil {
			_, readErr = r.Body.Read(buf)
		}
	}
	wrapped := Chain(h, BodyLimiter(8))
	wrapped(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/fake", strings.NewReader(strings.Repeat("x", 32))), nil)
	require.Error(t, readErr)
	var mbe *http.MaxBytesError
	assert.ErrorAs(t, readErr, &mbe)
}

type fakeObserver struct {
	mu       sync.Mutex
	statuses []int
	inFlight float64
}

func (o *fakeObserver) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

func (o *fakeObserver) InFlight(route string, delta float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight += delta
}

func TestInstrument(t *testing.T) {
	o := &fakeObserver{}
	h := func(w http.ResponseWriter, r *http.Request, p hr.Params) {
		w.WriteHeader(http.StatusTeapot)
	}
	wrapped := Chain(h, RequestLogger(), Instrument("/fake", o))
	wrapped(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fake", nil), nil)
	assert.Equal(t, []int{http.StatusTeapot}, o.statuses)
	assert.Equal(t, float64(0), o.inFlight)
}
