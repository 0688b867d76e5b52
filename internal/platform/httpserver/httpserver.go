// Package httpserver constructs the API's http.Server with the timeouts the
// session endpoints need.
package httpserver

import (
	"net/http"
	"time"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
)

// New builds the server. WriteTimeout stays unset: the events endpoint
// streams for as long as the subscriber stays connected, and a write
// deadline would cut live streams off mid-session.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
}
