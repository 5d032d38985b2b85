package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/newnotes/insight/internal/hierarchy"
	"github.com/newnotes/insight/internal/interest"
)

// HierarchyGraph answers hierarchy queries.
type HierarchyGraph interface {
	GetAncestors(ctx context.Context, id uuid.UUID, maxDepth int) ([]hierarchy.Node, error)
	GetDescendants(ctx context.Context, id uuid.UUID, maxDepth int) ([]hierarchy.Node, error)
	BuildHierarchyTree(ctx context.Context) (*hierarchy.Tree, error)
}

// HierarchyHandler handles hierarchy query endpoints.
type HierarchyHandler struct {
	graph  HierarchyGraph
	logger *slog.Logger
}

// NewHierarchyHandler creates a hierarchy handler.
func NewHierarchyHandler(graph HierarchyGraph, logger *slog.Logger) *HierarchyHandler {
	return &HierarchyHandler{graph: graph, logger: logger}
}

// RegisterRoutes registers hierarchy routes on the given mux.
func (h *HierarchyHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/hierarchy", h.tree)
	mux.HandleFunc("GET /api/interests/{id}/ancestors", h.ancestors)
	mux.HandleFunc("GET /api/interests/{id}/descendants", h.descendants)
}

// tree returns the full hierarchy forest with summary statistics.
func (h *HierarchyHandler) tree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.graph.BuildHierarchyTree(r.Context())
	if err != nil {
		h.logger.Error("failed to build hierarchy tree", "error", err)
		writeError(w, http.StatusInternalServerError, "hierarchy_failed", "failed to build hierarchy tree")
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// ancestors returns the broader topics of an interest, nearest first.
// max_depth (default 0) bounds the walk; 0 means unbounded.
func (h *HierarchyHandler) ancestors(w http.ResponseWriter, r *http.Request) {
	h.traverse(w, r, h.graph.GetAncestors, "ancestors")
}

// descendants returns the narrower topics of an interest, nearest first.
func (h *HierarchyHandler) descendants(w http.ResponseWriter, r *http.Request) {
	h.traverse(w, r, h.graph.GetDescendants, "descendants")
}

func (h *HierarchyHandler) traverse(w http.ResponseWriter, r *http.Request,
	walk func(context.Context, uuid.UUID, int) ([]hierarchy.Node, error), kind string) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	maxDepth, err := parseIntParam(r, "max_depth", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	if maxDepth < 0 {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "max_depth must be non-negative")
		return
	}

	nodes, err := walk(r.Context(), id, maxDepth)
	if err != nil {
		if errors.Is(err, interest.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "interest not found")
			return
		}
		h.logger.Error("hierarchy traversal failed", "id", id, "kind", kind, "error", err)
		writeError(w, http.StatusInternalServerError, "traversal_failed", "hierarchy traversal failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"interest_id": id,
		kind:          nodes,
		"count":       len(nodes),
	})
}
