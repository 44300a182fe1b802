package smarthttp

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/jmgilman/objgit/auth"
	"github.com/jmgilman/objgit/errors"
	"github.com/jmgilman/objgit/git"
)

// maxLogLimit caps the limit query parameter of the commits route.
const maxLogLimit = 500

func (h *Handler) handleTree(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolve(w, r, auth.Read)
	if !ok {
		return
	}

	listing, err := h.reader.ListDirectory(r.Context(), t.id, r.PathValue("branch"), r.PathValue("path"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, listing)
}

func (h *Handler) handleBlob(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolve(w, r, auth.Read)
	if !ok {
		return
	}

	path := r.PathValue("path")
	file, err := h.reader.ReadFile(r.Context(), t.id, r.PathValue("branch"), path)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if file == nil {
		h.writeError(w, errors.WithContext(
			errors.New(errors.CodeNotFound, "file not found"),
			"path", path,
		))
		return
	}
	h.writeJSON(w, http.StatusOK, file)
}

func (h *Handler) handleBranches(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolve(w, r, auth.Read)
	if !ok {
		return
	}

	branches, err := h.reader.ListBranches(r.Context(), t.id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		Branches []git.Branch `json:"branches"`
	}{branches})
}

func (h *Handler) handleCommits(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolve(w, r, auth.Read)
	if !ok {
		return
	}

	limit := git.DefaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, errors.WithContext(
				errors.New(errors.CodeInvalidInput, "limit must be a positive integer"),
				"limit", raw,
			))
			return
		}
		limit = min(n, maxLogLimit)
	}

	commits, err := h.reader.Log(r.Context(), t.id, r.PathValue("branch"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		Commits []git.Commit `json:"commits"`
	}{commits})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("browse request failed", "error", err)
	}
	h.writeJSON(w, status, errors.ToJSON(err))
}
