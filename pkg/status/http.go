package status

import (
	"encoding/json"
	"net/http"
)

// Handler serves task status over HTTP.
//
// Usage:
//
//	mux.Handle("/tasks/status", status.Handler(projector))
//
// Requests carry either a single "task_id" or repeated "task_ids[]"
// form values. A single id answers with one status object (JSON null
// when unknown); a list answers with a map keyed by task id holding
// one entry per known id. Unknown ids are omitted from the map.
func Handler(p *Projector) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")

		if taskID := r.Form.Get("task_id"); taskID != "" {
			st, err := p.Status(r.Context(), taskID)
			if err != nil {
				p.logger.Error("status lookup failed", "task_id", taskID, "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			writeJSON(w, st)
			return
		}

		if taskIDs := r.Form["task_ids[]"]; len(taskIDs) > 0 {
			results := make(map[string]*TaskStatus, len(taskIDs))
			for _, id := range taskIDs {
				st, err := p.Status(r.Context(), id)
				if err != nil {
					p.logger.Error("status lookup failed", "task_id", id, "error", err)
					http.Error(w, "internal error", http.StatusInternalServerError)
					return
				}
				if st != nil {
					results[id] = st
				}
			}
			writeJSON(w, results)
			return
		}

		http.Error(w, "task_id or task_ids[] required", http.StatusBadRequest)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}
