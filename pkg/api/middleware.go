package api

import (
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireBasicAuth rejects requests whose basic auth credentials do not
// match a configured user.
func (s *server) requireBasicAuth(next http.Handler) http.Handler {
	hashes := make(map[string]string, len(s.cfg.Auth.Basic.Users))
	for _, u := range s.cfg.Auth.Basic.Users {
		hashes[u.Username] = u.PasswordHash
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="dbbot"`)
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"authentication required"})

			return
		}

		hash, exists := hashes[username]
		if !exists || !checkPassword(hash, password) {
			s.log.WithField("username", username).
				Debug("Rejected basic auth credentials")
			w.Header().Set("WWW-Authenticate", `Basic realm="dbbot"`)
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"invalid credentials"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

// checkPassword compares a bcrypt hash with a plaintext password.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword(
		[]byte(hash), []byte(password),
	) == nil
}
