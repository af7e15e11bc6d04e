package api

import (
	"net/http"

	"github.com/bngnha/sensu/internal/settings"
)

type versionInfo struct {
	Version string `json:"version"`
}

type queueInfo struct {
	Messages  *int `json:"messages"`
	Consumers *int `json:"consumers"`
}

type transportInfo struct {
	Keepalives queueInfo `json:"keepalives"`
	Results    queueInfo `json:"results"`
	Connected  bool      `json:"connected"`
}

type connectedInfo struct {
	Connected bool `json:"connected"`
}

type infoResponse struct {
	Sensu     versionInfo   `json:"sensu"`
	Transport transportInfo `json:"transport"`
	Redis     connectedInfo `json:"redis"`
}

// HandleInfo reports the platform version, backend connectivity, and queue
// depths. It stays reachable while backends are down; queue fields are null
// when statistics cannot be fetched.
func (s *Server) HandleInfo(w http.ResponseWriter, r *http.Request) {
	info := infoResponse{
		Sensu:     versionInfo{Version: settings.Version},
		Transport: transportInfo{Connected: s.Transport.Connected()},
		Redis:     connectedInfo{Connected: s.Registry.Connected()},
	}

	if info.Transport.Connected {
		info.Transport.Keepalives = s.queueInfo(r, "keepalives")
		info.Transport.Results = s.queueInfo(r, "results")
	}

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) queueInfo(r *http.Request, queue string) queueInfo {
	stats, err := s.Transport.Stats(r.Context(), queue)
	if err != nil {
		LoggerFromContext(r.Context()).Warn("failed to fetch queue stats", "queue", queue, "error", err)
		return queueInfo{}
	}
	return queueInfo{Messages: &stats.Messages, Consumers: &stats.Consumers}
}

// HandleHealth answers 204 when both backends are connected and the
// transport queues satisfy the optional consumers/messages thresholds, 412
// otherwise.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.Registry.Connected() || !s.Transport.Connected() {
		preconditionFailed(w)
		return
	}

	minConsumers, hasMin := integerParameter(r.URL.Query().Get("consumers"))
	maxMessages, hasMax := integerParameter(r.URL.Query().Get("messages"))
	if hasMin || hasMax {
		for _, queue := range []string{"keepalives", "results"} {
			stats, err := s.Transport.Stats(r.Context(), queue)
			if err != nil {
				LoggerFromContext(r.Context()).Warn("failed to fetch queue stats", "queue", queue, "error", err)
				preconditionFailed(w)
				return
			}
			if hasMin && stats.Consumers < minConsumers {
				preconditionFailed(w)
				return
			}
			if hasMax && stats.Messages > maxMessages {
				preconditionFailed(w)
				return
			}
		}
	}

	noContent(w)
}
