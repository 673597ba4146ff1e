package api

import (
	"net/http"
	"sort"
)

// AgentResponse describes the sending agent of one destination.
type AgentResponse struct {
	Destination string `json:"destination"`
	Latched     bool   `json:"latched"`
	Queued      int64  `json:"queued"`
}

func (a *API) counts(w http.ResponseWriter, r *http.Request) {
	c, err := a.eng.Counts(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, c)
}

func (a *API) agents(w http.ResponseWriter, _ *http.Request) {
	agents := a.eng.Agents()
	out := make([]AgentResponse, 0, len(agents))
	for dest, ag := range agents {
		out = append(out, AgentResponse{
			Destination: dest,
			Latched:     ag.Latched(),
			Queued:      ag.QueuedCount(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) handlers(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.eng.Handlers().MessageTypes())
}

// removeDestination handles DELETE /v1/destinations?uri=<destination>.
// The destination travels as a query parameter because it is itself a URI.
func (a *API) removeDestination(w http.ResponseWriter, r *http.Request) {
	dest := r.URL.Query().Get("uri")
	if dest == "" {
		a.badRequest(w, "uri query parameter is required")
		return
	}
	if err := a.eng.RemoveDestination(r.Context(), dest); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
