package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/systemshift/whereabouts/internal/batch"
	"github.com/systemshift/whereabouts/internal/core"
	"github.com/systemshift/whereabouts/internal/location"
	"github.com/systemshift/whereabouts/internal/platform/logger"
	"github.com/systemshift/whereabouts/internal/server/graph"
	"github.com/systemshift/whereabouts/internal/server/subscriptions"
)

// Server holds the HTTP server dependencies
type Server struct {
	repo     graph.Repository
	resolver *location.Resolver
	linker   *batch.GroupLinker
	subs     *subscriptions.Manager
	log      *logger.Logger
}

// New creates a new API server. subs may be nil.
func New(repo graph.Repository, resolver *location.Resolver, linker *batch.GroupLinker, subs *subscriptions.Manager, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{repo: repo, resolver: resolver, linker: linker, subs: subs, log: log}
}

// Routes registers the API routes on r
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/records", s.CreateRecord)
		r.Get("/records/{id}", s.GetRecord)
		r.Patch("/records/{id}", s.UpdateRecord)
		r.Delete("/records/{id}", s.DeleteRecord)
		r.Post("/records/{id}/lifecycle", s.TransitionRecord)
		r.Get("/records/{id}/relations", s.GetRelations)
		r.Post("/relations", s.CreateRelation)
		r.Post("/items/{id}/location/recompute", s.RecomputeLocation)
		r.Post("/batch/relate-movement-to-group", s.RelateMovementToGroup)
		r.Get("/subscriptions", s.ListSubscriptions)
	})
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// CreateRecordRequest is the request body for creating a record
type CreateRecordRequest struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	LifecycleState string         `json:"lifecycle_state,omitempty"`
	IsProxy        bool           `json:"is_proxy,omitempty"`
	Fields         map[string]any `json:"fields"`
	ChangeNote     string         `json:"change_note,omitempty"`
	ChangedBy      string         `json:"changed_by,omitempty"`
}

// CreateRecord handles POST /api/records
func (s *Server) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}

	rec := &core.Record{
		ID:             req.ID,
		Type:           req.Type,
		LifecycleState: req.LifecycleState,
		IsProxy:        req.IsProxy,
		Fields:         req.Fields,
		ChangeNote:     req.ChangeNote,
		ChangedBy:      req.ChangedBy,
	}
	if err := s.repo.Create(r.Context(), rec); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// GetRecord handles GET /api/records/{id}
// Supports ?type=Prefix to restrict the lookup to a record type
func (s *Server) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.repo.GetRecord(r.Context(), r.URL.Query().Get("type"), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// UpdateRecordRequest is the request body for updating a record's fields.
// Fields are merged into the current version; a null value removes a field.
type UpdateRecordRequest struct {
	Fields     map[string]any `json:"fields"`
	ChangeNote string         `json:"change_note,omitempty"`
	ChangedBy  string         `json:"changed_by,omitempty"`
}

// UpdateRecord handles PATCH /api/records/{id}
// Creates a new version of the record
func (s *Server) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := s.repo.GetRecord(r.Context(), "", id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rec.IsVersion {
		http.Error(w, "cannot update a version snapshot", http.StatusConflict)
		return
	}
	for k, v := range req.Fields {
		if v == nil {
			delete(rec.Fields, k)
			continue
		}
		rec.Fields[k] = v
	}
	rec.ChangeNote = req.ChangeNote
	rec.ChangedBy = req.ChangedBy

	if err := s.repo.Save(r.Context(), rec); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteRecord handles DELETE /api/records/{id}
// This is a hard delete; use the lifecycle endpoint to soft-delete
func (s *Server) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.repo.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TransitionRequest is the request body for a lifecycle transition
type TransitionRequest struct {
	State string `json:"state"`
}

// TransitionRecord handles POST /api/records/{id}/lifecycle
func (s *Server) TransitionRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.State) == "" {
		http.Error(w, "state is required", http.StatusBadRequest)
		return
	}

	if err := s.repo.SetLifecycleState(r.Context(), id, req.State); err != nil {
		s.writeError(w, err)
		return
	}
	rec, err := s.repo.GetRecord(r.Context(), "", id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CreateRelationRequest is the request body for relating two records.
// Blank document types are read from the endpoint records.
type CreateRelationRequest struct {
	SubjectID            string `json:"subject_id"`
	SubjectType          string `json:"subject_type,omitempty"`
	ObjectID             string `json:"object_id"`
	ObjectType           string `json:"object_type,omitempty"`
	RelationshipType     string `json:"relationship_type"`
	PredicateDisplayName string `json:"predicate_display_name,omitempty"`
}

// CreateRelation handles POST /api/relations
func (s *Server) CreateRelation(w http.ResponseWriter, r *http.Request) {
	var req CreateRelationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.SubjectID == "" || req.ObjectID == "" || req.RelationshipType == "" {
		http.Error(w, "subject_id, object_id and relationship_type are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if req.SubjectType == "" {
		subject, err := s.repo.GetRecord(ctx, "", req.SubjectID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		req.SubjectType = subject.Type
	}
	if req.ObjectType == "" {
		object, err := s.repo.GetRecord(ctx, "", req.ObjectID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		req.ObjectType = object.Type
	}

	rec := core.Relation{
		SubjectID:            req.SubjectID,
		SubjectType:          req.SubjectType,
		ObjectID:             req.ObjectID,
		ObjectType:           req.ObjectType,
		RelationshipType:     req.RelationshipType,
		PredicateDisplayName: req.PredicateDisplayName,
	}.Record()
	if err := s.repo.Create(ctx, rec); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// GetRelations handles GET /api/records/{id}/relations
// Supports ?type=Prefix to restrict the counterpart record type
func (s *Server) GetRelations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	typeName := r.URL.Query().Get("type")

	rels, err := location.FindRelations(r.Context(), s.repo, id, typeName, typeName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"record_id": id,
		"relations": rels,
		"count":     len(rels),
	})
}

// RecomputeLocation handles POST /api/items/{id}/location/recompute
func (s *Server) RecomputeLocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	upd, err := s.resolver.RecomputeItem(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, upd)
}

// RelateGroupRequest is the request body for the group linker job
type RelateGroupRequest struct {
	GroupID string `json:"group_id"`
}

// RelateMovementToGroup handles POST /api/batch/relate-movement-to-group
// The outcome is returned with 200 on completion and 422 on error
func (s *Server) RelateMovementToGroup(w http.ResponseWriter, r *http.Request) {
	var req RelateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	out := s.linker.Run(r.Context(), req.GroupID)
	status := http.StatusOK
	if !out.OK() {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, out)
}

// ListSubscriptions handles GET /api/subscriptions
func (s *Server) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs := []subscriptions.Subscription{}
	if s.subs != nil {
		subs = s.subs.List()
	}
	writeJSON(w, http.StatusOK, subscriptions.ListSubscriptionsResponse{
		Subscriptions: subs,
		Count:         len(subs),
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, graph.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, graph.ErrAmbiguous), errors.Is(err, graph.ErrExists), errors.Is(err, location.ErrInactiveItem):
		status = http.StatusConflict
	case errors.Is(err, graph.ErrInvalidField):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
