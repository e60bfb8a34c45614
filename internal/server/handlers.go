package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/auth"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/draft"
	perrors "github.com/alexjbarnes/cloudpoodll-imagegen/internal/errors"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/poodll"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/repository"
)

// maxSearchBody caps search request bodies.
const maxSearchBody = 64 * 1024

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	writeJSON(w, status, errorBody{Error: msg, Kind: perrors.Kind(err)})
}

// statusFor maps pipeline failures to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, draft.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, perrors.ErrProviderIncapable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, perrors.ErrConfigurationMissing), errors.Is(err, perrors.ErrStorage):
		return http.StatusInternalServerError
	}

	return http.StatusBadGateway
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDraftFile serves /draftfile/{user}/{itemid}/{path...}/{name}.
// Callers can only read their own drafts.
func handleDraftFile(files DraftFiles, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.PathValue("user")
		if owner != auth.RequestUserID(r.Context()) {
			http.NotFound(w, r)
			return
		}

		itemID, err := strconv.ParseInt(r.PathValue("itemid"), 10, 64)
		if err != nil || itemID <= 0 {
			http.NotFound(w, r)
			return
		}

		dir, name := path.Split("/" + r.PathValue("file"))
		if name == "" {
			http.NotFound(w, r)
			return
		}

		loc := models.FileLocation{Username: owner, ItemID: itemID, FilePath: dir, Filename: name}

		f, err := files.GetFile(r.Context(), loc)
		if err != nil || f == nil {
			if err != nil {
				logger.Debug("draft file lookup failed", slog.String("error", err.Error()))
			}

			http.NotFound(w, r)

			return
		}

		data, err := files.ReadFile(r.Context(), f)
		if err != nil {
			logger.Warn("reading draft file",
				slog.String("user", owner),
				slog.Int64("itemid", itemID),
				slog.String("filename", name),
				slog.String("error", err.Error()),
			)
			http.Error(w, "reading file", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", f.MIMEType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Cache-Control", "private, max-age=86400")
		w.Write(data)
	}
}

func handleSearch(repo Repository, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := models.User{Username: auth.RequestUserID(r.Context())}

		var req repository.SearchRequest

		body, err := io.ReadAll(io.LimitReader(r.Body, maxSearchBody))
		if err != nil || json.Unmarshal(body, &req) != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body", nil)
			return
		}

		res, err := repo.Search(r.Context(), user, req)
		if err != nil {
			logger.Info("search failed",
				slog.String("user", user.Username),
				slog.String("kind", perrors.Kind(err)),
			)
			writeError(w, statusFor(err), "image request failed", err)

			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

func handleForm(repo Repository, siteURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := models.User{Username: auth.RequestUserID(r.Context())}
		q := r.URL.Query()

		req := repository.SearchRequest{
			Prompt:        q.Get("s"),
			ImageType:     q.Get("imagetype"),
			SelectedImage: q.Get("selectedimage"),
		}

		if v := q.Get("itemid"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid itemid", nil)
				return
			}

			req.ItemID = id
		}

		form, err := repo.Form(r.Context(), user, siteURL, req)
		if err != nil {
			writeError(w, statusFor(err), "listing draft images failed", err)
			return
		}

		writeJSON(w, http.StatusOK, form)
	}
}

type tokenResponse struct {
	Lines     []string           `json:"lines"`
	Refreshed bool               `json:"refreshed,omitempty"`
	Status    poodll.TokenStatus `json:"status"`
}

func handleTokenStatus(tokens TokenReporter, creds models.Credential, siteURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := tokens.Status(creds, siteURL)
		writeJSON(w, http.StatusOK, tokenResponse{Lines: st.Lines(), Status: st})
	}
}

func handleTokenRefresh(tokens TokenReporter, creds models.Credential, siteURL string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := tokens.Fetch(r.Context(), creds, true); err != nil {
			logger.Warn("token refresh failed",
				slog.String("user", auth.RequestUserID(r.Context())),
				slog.String("kind", perrors.Kind(err)),
			)

			status := http.StatusBadGateway
			if errors.Is(err, perrors.ErrConfigurationMissing) {
				status = http.StatusBadRequest
			}

			writeError(w, status, "token refresh failed", err)

			return
		}

		st := tokens.Status(creds, siteURL)
		writeJSON(w, http.StatusOK, tokenResponse{Lines: st.Lines(), Refreshed: true, Status: st})
	}
}
