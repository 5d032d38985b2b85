// Package hierarchy maintains a directed acyclic graph of "broader than"
// relationships between interests.
//
// Edges are proposed by a language model and are therefore untrusted input:
// every candidate is validated against a closed invariant (no self-loop, no
// cycle, both names must resolve to existing interests) before it is admitted
// to the graph.
package hierarchy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/newnotes/insight/internal/interest"
	"github.com/newnotes/insight/internal/llm"
)

// maxDetectionTopics caps the number of topics sent in one detection prompt.
const maxDetectionTopics = 100

// detectionPrompt asks the model to propose broader/narrower pairs among the
// given topic set. %s placeholder: newline-separated topic list.
const detectionPrompt = `You are a topic taxonomy assistant. Below is a list of topics a user is interested in.

Identify pairs where one topic is strictly broader than another. Only use topics from the list, spelled exactly as given. Skip pairs you are unsure about.

Topics:
%s

Output format: JSON array, one object per pair.
Example: [{"parent": "Machine Learning", "child": "Deep Learning", "confidence": 0.9, "reason": "Deep learning is a subfield of machine learning"}]

Propose hierarchy pairs as JSON array:`

// candidate is one model-proposed edge before validation.
type candidate struct {
	Parent     string  `json:"parent"`
	Child      string  `json:"child"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Store is the subset of the interest store the graph needs.
type Store interface {
	ListActive(ctx context.Context) ([]*interest.Interest, error)
	GetInterest(ctx context.Context, id uuid.UUID) (*interest.Interest, error)
	ListEdges(ctx context.Context) ([]*interest.Edge, error)
	UpsertEdge(ctx context.Context, e *interest.Edge) error
}

// Node is a traversal result: an interest annotated with its distance from
// the query node.
type Node struct {
	Interest *interest.Interest `json:"interest"`
	Depth    int                `json:"depth"`
}

// TreeNode is one node of the full-hierarchy forest.
type TreeNode struct {
	Interest *interest.Interest `json:"interest"`
	Depth    int                `json:"depth"`
	Children []*TreeNode        `json:"children,omitempty"`
}

// Tree is the full-hierarchy view with summary statistics.
type Tree struct {
	Roots          []*TreeNode `json:"roots"`
	TotalInterests int         `json:"total_interests"`
	MaxDepth       int         `json:"max_depth"`
}

// Graph detects, validates and queries hierarchy edges.
type Graph struct {
	store     Store
	completer llm.Completer
	logger    *slog.Logger
}

// New creates a hierarchy graph over the given store and completion gateway.
func New(store Store, completer llm.Completer, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{store: store, completer: completer, logger: logger}
}

// DetectHierarchies asks the completion gateway, in one batched request, to
// propose parent/child pairs among all active interests, then persists every
// candidate that survives validation. Returns the number of edges upserted.
//
// A malformed or unparsable response yields zero candidates, not an error.
// Individual bad candidates are skipped so one never aborts the batch.
func (g *Graph) DetectHierarchies(ctx context.Context) (int, error) {
	active, err := g.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing active interests: %w", err)
	}
	if len(active) < 2 {
		return 0, nil
	}
	if len(active) > maxDetectionTopics {
		active = active[:maxDetectionTopics]
	}

	byTopic := make(map[string]*interest.Interest, len(active))
	topics := make([]string, len(active))
	for i, in := range active {
		topics[i] = in.Topic
		byTopic[strings.ToLower(in.Topic)] = in
	}

	prompt := fmt.Sprintf(detectionPrompt, strings.Join(topics, "\n"))
	resp, err := g.completer.Complete(ctx, prompt, llm.CompleteOptions{Temperature: 0.2})
	if err != nil {
		return 0, fmt.Errorf("generating hierarchy candidates: %w", err)
	}

	candidates := parseCandidates(resp.Text, g.logger)
	if len(candidates) == 0 {
		return 0, nil
	}

	adj, err := g.loadAdjacency(ctx)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, c := range candidates {
		parent, ok := byTopic[strings.ToLower(strings.TrimSpace(c.Parent))]
		if !ok {
			g.logger.Debug("skipping candidate with unknown parent", "parent", c.Parent)
			continue
		}
		child, ok := byTopic[strings.ToLower(strings.TrimSpace(c.Child))]
		if !ok {
			g.logger.Debug("skipping candidate with unknown child", "child", c.Child)
			continue
		}
		if parent.ID == child.ID {
			g.logger.Debug("skipping self-loop candidate", "topic", parent.Topic)
			continue
		}
		if adj.wouldCreateCycle(parent.ID, child.ID) {
			g.logger.Warn("rejecting edge that would create a cycle",
				"parent", parent.Topic, "child", child.Topic)
			continue
		}

		edge := &interest.Edge{
			ParentID:   parent.ID,
			ChildID:    child.ID,
			Type:       interest.EdgeTypeBroader,
			Confidence: c.Confidence,
		}
		if err := g.store.UpsertEdge(ctx, edge); err != nil {
			g.logger.Warn("edge upsert failed",
				"parent", parent.Topic, "child", child.Topic, "error", err)
			continue
		}
		// Later candidates must see this edge when cycle-checking.
		adj.add(parent.ID, child.ID)
		added++
	}

	if added > 0 {
		g.logger.Info("hierarchy detection complete", "candidates", len(candidates), "added", added)
	}
	return added, nil
}

// parseCandidates extracts candidate edges from raw completion text.
// Any parse failure degrades to zero candidates.
func parseCandidates(text string, logger *slog.Logger) []candidate {
	raw, ok := llm.LocateJSONArray(text)
	if !ok {
		logger.Debug("no JSON array in hierarchy response")
		return nil
	}
	var out []candidate
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		logger.Warn("unparsable hierarchy response", "error", err)
		return nil
	}
	return out
}

// WouldCreateCycle reports whether inserting parentID -> childID would close
// a directed cycle, i.e. whether childID is already an ancestor of parentID.
func (g *Graph) WouldCreateCycle(ctx context.Context, parentID, childID uuid.UUID) (bool, error) {
	adj, err := g.loadAdjacency(ctx)
	if err != nil {
		return false, err
	}
	return adj.wouldCreateCycle(parentID, childID), nil
}

// GetAncestors returns the interests reachable by following parent edges
// from id, annotated with their distance. maxDepth <= 0 means unlimited.
// Returns interest.ErrNotFound for an unknown id.
func (g *Graph) GetAncestors(ctx context.Context, id uuid.UUID, maxDepth int) ([]Node, error) {
	return g.traverse(ctx, id, maxDepth, true)
}

// GetDescendants returns the interests reachable by following child edges
// from id, annotated with their distance. maxDepth <= 0 means unlimited.
// Returns interest.ErrNotFound for an unknown id.
func (g *Graph) GetDescendants(ctx context.Context, id uuid.UUID, maxDepth int) ([]Node, error) {
	return g.traverse(ctx, id, maxDepth, false)
}

// traverse runs a breadth-first, depth-tracked walk from id. The visited set
// guarantees termination even if the stored edges ever contain a cycle.
func (g *Graph) traverse(ctx context.Context, id uuid.UUID, maxDepth int, up bool) ([]Node, error) {
	if _, err := g.store.GetInterest(ctx, id); err != nil {
		return nil, err
	}

	adj, err := g.loadAdjacency(ctx)
	if err != nil {
		return nil, err
	}
	neighbors := adj.children
	if up {
		neighbors = adj.parents
	}

	active, err := g.activeByID(ctx)
	if err != nil {
		return nil, err
	}

	type item struct {
		id    uuid.UUID
		depth int
	}
	visited := map[uuid.UUID]bool{id: true}
	queue := []item{{id: id}}
	var out []Node

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if maxDepth > 0 && cur.depth >= maxDepth {
			continue
		}
		for _, next := range neighbors[cur.id] {
			if visited[next] {
				continue
			}
			visited[next] = true
			if in, ok := active[next]; ok {
				out = append(out, Node{Interest: in, Depth: cur.depth + 1})
			}
			queue = append(queue, item{id: next, depth: cur.depth + 1})
		}
	}
	return out, nil
}

// BuildHierarchyTree constructs the full forest: every active interest with
// no incoming edge is a root, and depth is the distance from its root.
func (g *Graph) BuildHierarchyTree(ctx context.Context) (*Tree, error) {
	active, err := g.activeByID(ctx)
	if err != nil {
		return nil, err
	}
	adj, err := g.loadAdjacency(ctx)
	if err != nil {
		return nil, err
	}

	tree := &Tree{Roots: []*TreeNode{}, TotalInterests: len(active)}

	var build func(id uuid.UUID, depth int, visited map[uuid.UUID]bool) *TreeNode
	build = func(id uuid.UUID, depth int, visited map[uuid.UUID]bool) *TreeNode {
		in, ok := active[id]
		if !ok || visited[id] {
			return nil
		}
		visited[id] = true
		node := &TreeNode{Interest: in, Depth: depth}
		if depth > tree.MaxDepth {
			tree.MaxDepth = depth
		}
		for _, childID := range adj.children[id] {
			if child := build(childID, depth+1, visited); child != nil {
				node.Children = append(node.Children, child)
			}
		}
		return node
	}

	for _, in := range sortedByTopic(active) {
		if len(adj.parents[in.ID]) > 0 {
			continue
		}
		if root := build(in.ID, 0, map[uuid.UUID]bool{}); root != nil {
			tree.Roots = append(tree.Roots, root)
		}
	}
	return tree, nil
}

// activeByID returns all active interests indexed by ID.
func (g *Graph) activeByID(ctx context.Context) (map[uuid.UUID]*interest.Interest, error) {
	active, err := g.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active interests: %w", err)
	}
	m := make(map[uuid.UUID]*interest.Interest, len(active))
	for _, in := range active {
		m[in.ID] = in
	}
	return m, nil
}

// sortedByTopic returns interests in deterministic topic order, so tree
// output is stable across calls.
func sortedByTopic(m map[uuid.UUID]*interest.Interest) []*interest.Interest {
	out := make([]*interest.Interest, 0, len(m))
	for _, in := range m {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Topic) < strings.ToLower(out[j].Topic)
	})
	return out
}

// adjacency is the in-memory edge index used for traversal and cycle checks.
// Nodes are addressed by ID, not by object reference.
type adjacency struct {
	parents  map[uuid.UUID][]uuid.UUID // child -> parents
	children map[uuid.UUID][]uuid.UUID // parent -> children
}

// loadAdjacency reads all edges into an adjacency index.
func (g *Graph) loadAdjacency(ctx context.Context) (*adjacency, error) {
	edges, err := g.store.ListEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing edges: %w", err)
	}
	adj := &adjacency{
		parents:  make(map[uuid.UUID][]uuid.UUID),
		children: make(map[uuid.UUID][]uuid.UUID),
	}
	for _, e := range edges {
		adj.add(e.ParentID, e.ChildID)
	}
	return adj, nil
}

// add records one edge in both directions.
func (a *adjacency) add(parentID, childID uuid.UUID) {
	a.parents[childID] = append(a.parents[childID], parentID)
	a.children[parentID] = append(a.children[parentID], childID)
}

// wouldCreateCycle reports whether childID is an ancestor of parentID.
func (a *adjacency) wouldCreateCycle(parentID, childID uuid.UUID) bool {
	visited := map[uuid.UUID]bool{}
	stack := []uuid.UUID{parentID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == childID {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		stack = append(stack, a.parents[cur]...)
	}
	return false
}
