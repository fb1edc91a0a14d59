package runtime

import (
	"net/http"
	"strings"

	"github.com/drblury/sockflow/internal/runtime/jsoncodec"
)

const defaultStatsPort = 8081

// StartStatsServer mounts GET /api/actions on StatsPort when StatsEnabled is
// set. The listener itself is started by Start.
func (s *Service) StartStatsServer() {
	if s.Conf == nil || !s.Conf.StatsEnabled {
		return
	}

	port := s.Conf.StatsPort
	if port == 0 {
		port = defaultStatsPort
	}

	s.RegisterHTTPHandler(port, "/api/actions", http.HandlerFunc(s.handleGetActions))
}

func (s *Service) handleGetActions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.Conf != nil && len(s.Conf.StatsCORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if allowedOrigin := s.getAllowedCORSOrigin(origin); allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet, http.MethodHead:
	default:
		w.Header().Set("Allow", "GET, OPTIONS")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := jsoncodec.Encode(w, s.Actions()); err != nil {
		s.Logger.Error("Failed to encode actions", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// getAllowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when it is not allowed.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.StatsCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
