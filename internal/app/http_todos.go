package app

import (
	"net/http"
	"strings"

	"todostarter/internal/todo"
)

// handleTodos serves /api/todos and its children. parts is the path below
// /api/todos.
func (s *HTTPServer) handleTodos(w http.ResponseWriter, r *http.Request, parts []string) {
	todos := s.service.Todos()

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		if q, ok := r.URL.Query()["q"]; ok {
			items, err := s.service.SearchTodos(r.Context(), strings.Join(q, " "))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"todos": items})
			return
		}
		items, err := todos.List(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"todos": items})

	case len(parts) == 0 && r.Method == http.MethodPost:
		var body todo.Input
		if err := decodeBody(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		created, err := todos.Add(r.Context(), body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	case len(parts) == 1 && parts[0] == "completed" && r.Method == http.MethodDelete:
		ids, err := todos.DeleteCompletedIDs(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": len(ids), "ids": ids})

	case len(parts) == 1 && r.Method == http.MethodPatch:
		var body todo.UpdateInput
		if err := decodeBody(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
		updated, err := todos.Update(r.Context(), parts[0], body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := todos.Delete(r.Context(), parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) <= 1:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
