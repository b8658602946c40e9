// Package analogic implements the typed association graph over memory
// entries: validated edge writes, reinforcement, decay, tag-driven
// auto-linking, and bounded context subgraphs.
package analogic

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/omnira-ai/analogic/internal/storage"
	"github.com/omnira-ai/analogic/pkg/types"
)

const (
	// DefaultStrengthenDelta is applied when a reinforcement call does not
	// supply a positive delta.
	DefaultStrengthenDelta = 0.1

	// DefaultDecayThreshold is the sweep floor: edges strictly weaker than
	// this are dropped.
	DefaultDecayThreshold = 0.05

	// autoLinkCandidates caps the tag-overlap scan per stored memory.
	autoLinkCandidates = 50

	// autoLinkMinStrength is the overlap floor below which no edge is created.
	autoLinkMinStrength = 0.1

	// subgraphEdgeCap bounds a context graph regardless of seed count.
	subgraphEdgeCap = 200
)

// Store is the slice of the storage layer the graph operates on.
type Store interface {
	storage.AssociationStore

	// TaggedSiblings feeds the auto-link candidate scan.
	TaggedSiblings(ctx context.Context, userID, excludeID string, tags []string, limit int) ([]storage.TagMatch, error)
}

// ContextGraph is the bounded neighborhood of a set of seed memories: node
// IDs in first-seen order and the edges connecting them.
type ContextGraph struct {
	Nodes            []string             `json:"nodes"`
	Edges            []*types.Association `json:"edges"`
	TotalConnections int                  `json:"total_connections"`
}

// Graph manipulates typed associations between memories. It is stateless
// apart from its store handle and safe for concurrent use.
type Graph struct {
	store Store
	now   func() time.Time
}

// NewGraph returns a Graph over the given store.
func NewGraph(store Store) *Graph {
	return &Graph{
		store: store,
		now:   time.Now,
	}
}

// CreateOrUpdate writes an edge between two memories. The type must belong
// to the fixed taxonomy and the strength is clamped into [0,1]. Re-creating
// an existing (source, target, type) triple overwrites its strength.
func (g *Graph) CreateOrUpdate(ctx context.Context, sourceID, targetID, assocType string, strength float64) (*types.Association, error) {
	if sourceID == "" || targetID == "" {
		return nil, fmt.Errorf("%w: source and target memory IDs are required", storage.ErrInvalidInput)
	}
	if !types.IsValidAssociationType(assocType) {
		return nil, fmt.Errorf("%w: unknown association type %q", storage.ErrInvalidInput, assocType)
	}

	assoc := &types.Association{
		ID:        uuid.New().String(),
		SourceID:  sourceID,
		TargetID:  targetID,
		Type:      types.AssociationType(assocType),
		Strength:  types.ClampStrength(strength),
		CreatedAt: g.now().UTC(),
	}
	return g.store.UpsertAssociation(ctx, assoc)
}

// ListFor returns the edges touching one memory, strongest first.
func (g *Graph) ListFor(ctx context.Context, filter storage.AssociationFilter) ([]*types.Association, error) {
	return g.store.ListAssociations(ctx, filter)
}

// Strengthen reinforces an existing edge by delta, saturating at 1.0. A
// non-positive delta falls back to DefaultStrengthenDelta. The edge must
// already exist; reinforcement never creates one.
func (g *Graph) Strengthen(ctx context.Context, sourceID, targetID, assocType string, delta float64) (*types.Association, error) {
	if sourceID == "" || targetID == "" {
		return nil, fmt.Errorf("%w: source and target memory IDs are required", storage.ErrInvalidInput)
	}
	if delta <= 0 {
		delta = DefaultStrengthenDelta
	}
	return g.store.StrengthenAssociation(ctx, sourceID, targetID, types.AssociationType(assocType), delta)
}

// DecaySweep drops every edge strictly below the threshold; non-positive
// thresholds fall back to DefaultDecayThreshold. Returns the removal count.
func (g *Graph) DecaySweep(ctx context.Context, threshold float64) (int, error) {
	if threshold <= 0 {
		threshold = DefaultDecayThreshold
	}
	removed, err := g.store.DecayAssociations(ctx, threshold)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.Printf("analogic: decay sweep removed %d associations below %.2f", removed, threshold)
	}
	return removed, nil
}

// PruneDangling removes edges whose endpoints were hard-purged.
func (g *Graph) PruneDangling(ctx context.Context) (int, error) {
	removed, err := g.store.PruneDangling(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.Printf("analogic: pruned %d dangling associations", removed)
	}
	return removed, nil
}

// AutoLink connects a newly stored memory to the user's existing memories
// that share tags. Edge strength is the shared-tag count over the larger of
// the two tag sets, rounded to three decimals; overlaps weaker than
// autoLinkMinStrength create nothing. Individual edge failures are logged
// and skipped so one bad candidate cannot abort the rest.
func (g *Graph) AutoLink(ctx context.Context, memoryID, userID string, tags []string) (int, error) {
	if len(tags) == 0 {
		return 0, nil
	}

	candidates, err := g.store.TaggedSiblings(ctx, userID, memoryID, tags, autoLinkCandidates)
	if err != nil {
		return 0, fmt.Errorf("analogic: failed to scan link candidates: %w", err)
	}

	created := 0
	for _, candidate := range candidates {
		strength := overlapStrength(tags, candidate.Tags)
		if strength < autoLinkMinStrength {
			continue
		}
		if _, err := g.CreateOrUpdate(ctx, memoryID, candidate.ID, string(types.AssociationRelatedTo), strength); err != nil {
			log.Printf("analogic: auto-link %s -> %s failed: %v", memoryID, candidate.ID, err)
			continue
		}
		created++
	}
	return created, nil
}

// BuildContext assembles the bounded subgraph around the given seed
// memories: every edge touching a seed where both endpoints belong to the
// user, strongest first, capped at subgraphEdgeCap. No seeds means an empty
// graph, not an error.
func (g *Graph) BuildContext(ctx context.Context, userID string, memoryIDs []string) (*ContextGraph, error) {
	graph := &ContextGraph{
		Nodes: []string{},
		Edges: []*types.Association{},
	}
	if len(memoryIDs) == 0 {
		return graph, nil
	}

	edges, err := g.store.Subgraph(ctx, userID, memoryIDs, subgraphEdgeCap)
	if err != nil {
		return nil, fmt.Errorf("analogic: failed to load subgraph: %w", err)
	}

	seen := make(map[string]bool)
	for _, edge := range edges {
		graph.Edges = append(graph.Edges, edge)
		for _, node := range []string{edge.SourceID, edge.TargetID} {
			if !seen[node] {
				seen[node] = true
				graph.Nodes = append(graph.Nodes, node)
			}
		}
	}
	graph.TotalConnections = len(graph.Edges)
	return graph, nil
}

// overlapStrength scores two tag sets: |shared| / max(|a|, |b|, 1), rounded
// to three decimals.
func overlapStrength(a, b []string) float64 {
	set := make(map[string]bool, len(a))
	for _, tag := range a {
		set[tag] = true
	}
	shared := 0
	for _, tag := range b {
		if set[tag] {
			shared++
		}
	}

	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	if denom < 1 {
		denom = 1
	}
	return math.Round(float64(shared)/float64(denom)*1000) / 1000
}
