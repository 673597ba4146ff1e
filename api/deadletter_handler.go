package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/xraph/courier/deadletter"
	"github.com/xraph/courier/envelope"
)

// DeadLetterResponse is one dead-letter report without its raw body.
type DeadLetterResponse struct {
	ID               uuid.UUID `json:"id"`
	Source           string    `json:"source,omitempty"`
	MessageType      string    `json:"message_type"`
	Explanation      string    `json:"explanation,omitempty"`
	ExceptionType    string    `json:"exception_type,omitempty"`
	ExceptionMessage string    `json:"exception_message,omitempty"`
	FailedAt         time.Time `json:"failed_at"`
}

// DeadLetterDetail adds the decoded envelope to a report.
type DeadLetterDetail struct {
	DeadLetterResponse
	ExceptionText string             `json:"exception_text,omitempty"`
	Envelope      *envelope.Envelope `json:"envelope,omitempty"`
}

func newDeadLetterResponse(r *deadletter.Report) DeadLetterResponse {
	return DeadLetterResponse{
		ID:               r.ID,
		Source:           r.Source,
		MessageType:      r.MessageType,
		Explanation:      r.Explanation,
		ExceptionType:    r.ExceptionType,
		ExceptionMessage: r.ExceptionMessage,
		FailedAt:         r.FailedAt,
	}
}

func (a *API) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil {
		a.badRequest(w, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		a.badRequest(w, err.Error())
		return
	}
	if limit == 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	reports, err := a.eng.DeadLetters().List(r.Context(), deadletter.ListOpts{
		Limit:       limit,
		Offset:      offset,
		MessageType: r.URL.Query().Get("message_type"),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	out := make([]DeadLetterResponse, 0, len(reports))
	for _, rep := range reports {
		out = append(out, newDeadLetterResponse(rep))
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *API) getDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := a.parseID(w, r)
	if !ok {
		return
	}

	rep, err := a.eng.DeadLetters().Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	detail := DeadLetterDetail{
		DeadLetterResponse: newDeadLetterResponse(rep),
		ExceptionText:      rep.ExceptionText,
	}
	// A body that no longer decodes is still worth showing the report for.
	if env, err := rep.Envelope(); err == nil {
		detail.Envelope = env
	}
	a.writeJSON(w, http.StatusOK, detail)
}

func (a *API) replayDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := a.parseID(w, r)
	if !ok {
		return
	}

	env, err := a.eng.DeadLetters().Replay(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, env)
}

func (a *API) deleteDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := a.parseID(w, r)
	if !ok {
		return
	}

	if err := a.eng.DeadLetters().Store().DeleteDeadLetter(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		a.badRequest(w, "invalid dead letter id")
		return uuid.Nil, false
	}
	return id, true
}
