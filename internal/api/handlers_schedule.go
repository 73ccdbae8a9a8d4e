package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"cronplan/internal/core"
	"cronplan/internal/schedule"
)

const (
	defaultPreviewCount = 5
	maxPreviewCount     = 20
)

type scheduleNextRequest struct {
	Rule       *schedule.RuleSpec `json:"rule"`
	Now        string             `json:"now,omitempty"`
	Count      int                `json:"count,omitempty"`
	BestEffort bool               `json:"best_effort,omitempty"`
}

type scheduleNextResponse struct {
	Valid      bool     `json:"valid"`
	NextTimes  []string `json:"next_times"`
	Message    string   `json:"message,omitempty"`
	BestEffort bool     `json:"best_effort,omitempty"`
}

type scheduleValidateRequest struct {
	Expression string `json:"expression"`
}

type scheduleValidateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// handleScheduleNext previews upcoming runs of a rule. With best_effort set,
// a rule that cannot be evaluated still yields a placeholder one minute after
// now; the placeholder is for draft editors and is never stored.
func (s *Server) handleScheduleNext(w http.ResponseWriter, r *http.Request) {
	var req scheduleNextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.Rule == nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "rule is required")
		return
	}

	reference := time.Now().In(s.location)
	if req.Now != "" {
		parsed, err := time.Parse(time.RFC3339, req.Now)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "now must be an RFC 3339 timestamp")
			return
		}
		reference = parsed.In(s.location)
	}

	count := req.Count
	if count <= 0 {
		count = defaultPreviewCount
	}
	if count > maxPreviewCount {
		count = maxPreviewCount
	}

	resp := scheduleNextResponse{NextTimes: []string{}}
	rule, err := req.Rule.Rule()
	if err != nil {
		resp.Message = schedule.Describe(err)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if req.BestEffort {
		next, err := schedule.NextRunBestEffort(rule, reference)
		resp.NextTimes = append(resp.NextTimes, formatUTC(next))
		if err != nil {
			resp.Message = schedule.Describe(err)
			resp.BestEffort = true
			writeJSON(w, http.StatusOK, resp)
			return
		}
		resp.NextTimes = resp.NextTimes[:0]
	}

	// Rejects one-shot rules whose time has passed.
	if _, err := core.NextRunAt(rule, reference); err != nil {
		resp.Message = schedule.Describe(err)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	times, err := schedule.NextRuns(rule, reference, count)
	for _, t := range times {
		resp.NextTimes = append(resp.NextTimes, formatUTC(t))
	}
	resp.Valid = len(times) > 0
	if err != nil {
		resp.Message = schedule.Describe(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScheduleValidate(w http.ResponseWriter, r *http.Request) {
	var req scheduleValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	expr := strings.TrimSpace(req.Expression)
	if expr == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "expression is required")
		return
	}
	msg := schedule.ValidationMessage(expr)
	writeJSON(w, http.StatusOK, scheduleValidateResponse{Valid: msg == "", Message: msg})
}
