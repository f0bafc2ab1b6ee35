// Package auth identifies the principal behind an owner API request. Signing users up and in is
// somebody else's job: this package only verifies what they hand out, either an HS256 bearer token
// or a session cookie.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/sessions"
	"wuyrush.io/note/common/clock"
	"wuyrush.io/note/common/middleware"
)

const (
	SessionName         = "note-session"
	SessionKeyPrincipal = "principal"
	bearerPrefix        = "Bearer "
)

var (
	ErrNoCredentials = errors.New("no credentials presented")
	ErrInvalidToken  = errors.New("invalid token")
)

// Claims carries the principal as UserID next to the registered claims.
type Claims struct {
	jwt.RegisteredClaims
	UserID string
}

// JWT authenticates requests bearing an HS256 token signed with Secret.
type JWT struct {
	Secret []byte
	Clock  clock.Clock
}

// Issue signs a token for userID valid for validity. It exists for the login service and tests.
func (a *JWT) Issue(userID string, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(a.now().Add(validity)),
		},
		UserID: userID,
	})
	return token.SignedString(a.Secret)
}

func (a *JWT) now() time.Time {
	if a.Clock == nil {
		return time.Now()
	}
	return a.Clock.Now()
}

func (a *JWT) Authenticate(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, bearerPrefix) {
		return "", ErrNoCredentials
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(h, bearerPrefix), claims,
		func(t *jwt.Token) (interface{}, error) {
			return a.Secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}

// Session authenticates requests carrying a session whose SessionKeyPrincipal value is set.
type Session struct {
	Store sessions.Store
}

// NewCookieSession returns a Session over a cookie store authenticated with key.
func NewCookieSession(key []byte) *Session {
	cs := sessions.NewCookieStore(key)
	cs.Options.HttpOnly = true
	cs.Options.SameSite = http.SameSiteLaxMode
	return &Session{Store: cs}
}

func (a *Session) Authenticate(r *http.Request) (string, error) {
	if _, err := r.Cookie(SessionName); err != nil {
		return "", ErrNoCredentials
	}
	sess, err := a.Store.Get(r, SessionName)
	if err != nil {
		return "", err
	}
	p, _ := sess.Values[SessionKeyPrincipal].(string)
	if p == "" {
		return "", ErrNoCredentials
	}
	return p, nil
}

// Login records principal in the session of r.
func (a *Session) Login(w http.ResponseWriter, r *http.Request, principal string) error {
	sess, err := a.Store.Get(r, SessionName)
	if err != nil && sess == nil {
		return err
	}
	sess.Values[SessionKeyPrincipal] = principal
	return sess.Save(r, w)
}

// First tries each authenticator in turn. Requests no authenticator recognizes are rejected with the
// error of the last one that was presented credentials.
type First []middleware.Authenticator

func (as First) Authenticate(r *http.Request) (string, error) {
	last := ErrNoCredentials
	for _, a := range as {
		p, err := a.Authenticate(r)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNoCredentials) {
			last = err
		}
	}
	return "", last
}
