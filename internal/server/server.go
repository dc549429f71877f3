package server

import (
	"log"
	"net/http"

	"github.com/meetscribe/meetscribe/internal/session"
)

// Options wires the HTTP surface to its collaborators. Analyzer may be nil
// when no analysis model is configured; the analysis routes then answer 503.
type Options struct {
	Manager     *session.Manager
	Hub         *Hub
	Analyzer    MeetingAnalyzer
	AdminSecret string
}

func Handler(opts Options) http.Handler {
	mux := http.NewServeMux()
	registerWSRoutes(mux, opts.Manager, opts.Hub)
	registerAPIRoutes(mux, opts.Manager, opts.Analyzer, opts.AdminSecret)
	return mux
}

func Serve(addr string, opts Options) error {
	log.Printf("listening on http://%s", addr)
	return http.ListenAndServe(addr, Handler(opts))
}
