// Package userhttp exposes the user CRUD API over chi. Handlers are thin:
// decode, validate, call the injected repository, encode.
package userhttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/eden-task/usersvc/internal/log"
	"github.com/eden-task/usersvc/internal/user"
)

// API implements the /api/users endpoints.
type API struct {
	repo   user.Repository
	logger log.Logger
}

func NewAPI(repo user.Repository, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{repo: repo, logger: logger}
}

// RegisterRoutes attaches the user endpoints to the router.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/users", func(r chi.Router) {
		r.Get("/", api.HandleList)
		r.Post("/", api.HandleCreate)
		r.Get("/{id}", api.HandleGet)
		r.Put("/{id}", api.HandleUpdate)
		r.Delete("/{id}", api.HandleDelete)
	})
}

type dataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type createRequest struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Active *bool  `json:"active"`
}

func (api *API) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	role := strings.TrimSpace(r.URL.Query().Get("role"))
	users, err := api.repo.List(ctx, role)
	if err != nil {
		api.serverError(ctx, w, err, "listing users")
		return
	}

	api.writeJSON(ctx, w, http.StatusOK, dataResponse{Success: true, Data: users})
}

func (api *API) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := api.userID(w, r)
	if !ok {
		return
	}

	u, err := api.repo.Get(ctx, id)
	if errors.Is(err, user.ErrNotFound) {
		api.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "User not found"})
		return
	}
	if err != nil {
		api.serverError(ctx, w, err, "getting user")
		return
	}

	api.writeJSON(ctx, w, http.StatusOK, dataResponse{Success: true, Data: u})
}

func (api *API) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON body"})
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" {
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "Name and email are required"})
		return
	}
	if !plausibleEmail(req.Email) {
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "Invalid email address"})
		return
	}

	role := req.Role
	if role == "" {
		role = "viewer"
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	u, err := api.repo.Create(ctx, user.User{
		Name:   req.Name,
		Email:  req.Email,
		Role:   role,
		Active: active,
	})
	if errors.Is(err, user.ErrEmailTaken) {
		api.writeJSON(ctx, w, http.StatusConflict, errorResponse{Error: "Email already in use"})
		return
	}
	if err != nil {
		api.serverError(ctx, w, err, "creating user")
		return
	}

	api.logger.Info(ctx, "user created", "user_id", u.ID, "role", u.Role)
	api.writeJSON(ctx, w, http.StatusCreated, dataResponse{Success: true, Data: u})
}

func (api *API) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := api.userID(w, r)
	if !ok {
		return
	}

	var patch user.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON body"})
		return
	}
	if patch.Empty() {
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "No updatable fields in request"})
		return
	}
	// same required-field rule as create: a patch may omit the name but
	// never blank it
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "Name cannot be empty"})
		return
	}
	if patch.Email != nil && !plausibleEmail(strings.TrimSpace(*patch.Email)) {
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "Invalid email address"})
		return
	}

	u, err := api.repo.Update(ctx, id, patch)
	if errors.Is(err, user.ErrNotFound) {
		api.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "User not found"})
		return
	}
	if errors.Is(err, user.ErrEmailTaken) {
		api.writeJSON(ctx, w, http.StatusConflict, errorResponse{Error: "Email already in use"})
		return
	}
	if err != nil {
		api.serverError(ctx, w, err, "updating user")
		return
	}

	api.logger.Info(ctx, "user updated", "user_id", u.ID)
	api.writeJSON(ctx, w, http.StatusOK, dataResponse{Success: true, Data: u})
}

func (api *API) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := api.userID(w, r)
	if !ok {
		return
	}

	err := api.repo.Delete(ctx, id)
	if errors.Is(err, user.ErrNotFound) {
		api.writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "User not found"})
		return
	}
	if err != nil {
		api.serverError(ctx, w, err, "deleting user")
		return
	}

	api.logger.Info(ctx, "user deleted", "user_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// userID parses the {id} route param; writes a 400 and returns false when
// it is not a positive integer.
func (api *API) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		api.writeJSON(r.Context(), w, http.StatusBadRequest, errorResponse{Error: "Invalid user id"})
		return 0, false
	}
	return id, true
}

// plausibleEmail is a sanity check, not RFC validation: the demo data set
// only needs to keep obvious garbage out.
func plausibleEmail(s string) bool {
	at := strings.Index(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t")
}

func (api *API) serverError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	api.logger.Error(ctx, err, msg)
	api.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
