package types

import "time"

// AssociationType classifies a directed link between two memories.
type AssociationType string

// The fixed association taxonomy. Unknown types are rejected on write.
const (
	AssociationRelatedTo      AssociationType = "related_to"
	AssociationCausedBy       AssociationType = "caused_by"
	AssociationLeadsTo        AssociationType = "leads_to"
	AssociationContradicts    AssociationType = "contradicts"
	AssociationSupports       AssociationType = "supports"
	AssociationPartOf         AssociationType = "part_of"
	AssociationSimilarTo      AssociationType = "similar_to"
	AssociationOppositeOf     AssociationType = "opposite_of"
	AssociationDerivedFrom    AssociationType = "derived_from"
	AssociationUserPreference AssociationType = "user_preference"
)

// AssociationTypeDescriptions maps each taxonomy entry to a human-readable
// description, surfaced by the API and CLI.
var AssociationTypeDescriptions = map[AssociationType]string{
	AssociationRelatedTo:      "General relationship between memories",
	AssociationCausedBy:       "Causal relationship, target caused source",
	AssociationLeadsTo:        "Source leads to or enables target",
	AssociationContradicts:    "Memories contradict each other",
	AssociationSupports:       "Source supports or reinforces target",
	AssociationPartOf:         "Source is a component of target",
	AssociationSimilarTo:      "Memories are semantically similar",
	AssociationOppositeOf:     "Memories are semantic opposites",
	AssociationDerivedFrom:    "Source was derived from target",
	AssociationUserPreference: "Association reflects a learned user preference",
}

// IsValidAssociationType checks if the given association type is in the taxonomy
func IsValidAssociationType(associationType string) bool {
	_, ok := AssociationTypeDescriptions[AssociationType(associationType)]
	return ok
}

// Association is a directed, weighted, typed edge between two memory entries.
// The triple (source, target, type) is unique; re-creating it overwrites the
// strength rather than producing a second edge.
type Association struct {
	ID        string          `json:"id"`
	SourceID  string          `json:"source_memory_id"`
	TargetID  string          `json:"target_memory_id"`
	Type      AssociationType `json:"association_type"`
	Strength  float64         `json:"strength"` // Clamped to [0,1] on every write
	CreatedAt time.Time       `json:"created_at"`
}

// ClampStrength bounds an association strength into [0,1].
func ClampStrength(strength float64) float64 {
	if strength < 0 {
		return 0
	}
	if strength > 1 {
		return 1
	}
	return strength
}
