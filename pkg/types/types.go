// Package types defines the core data structures for the Analogic memory
// system: encrypted memory entries, typed associations between them, context
// sessions, and backup catalog records.
package types

// MemoryType classifies the purpose of a memory entry.
type MemoryType string

// Memory type constants
const (
	// MemoryTypeGeneral is the default catch-all type
	MemoryTypeGeneral MemoryType = "general"

	// MemoryTypeContext holds conversational context
	MemoryTypeContext MemoryType = "context"

	// MemoryTypeKnowledge holds durable facts and learned information
	MemoryTypeKnowledge MemoryType = "knowledge"

	// MemoryTypeAssociation holds memories created from association traversal
	MemoryTypeAssociation MemoryType = "association"
)

// ValidMemoryTypes is a slice of all valid memory types for validation
var ValidMemoryTypes = []MemoryType{
	MemoryTypeGeneral,
	MemoryTypeContext,
	MemoryTypeKnowledge,
	MemoryTypeAssociation,
}

// IsValidMemoryType checks if the given memory type is valid
func IsValidMemoryType(memoryType string) bool {
	for _, validType := range ValidMemoryTypes {
		if string(validType) == memoryType {
			return true
		}
	}
	return false
}

// Scope determines the retention class of a memory entry.
type Scope string

// Scope constants
const (
	// ScopeShortTerm entries carry an expiry timestamp and are hard-deleted
	// by the purge sweep once it passes
	ScopeShortTerm Scope = "short_term"

	// ScopeLongTerm entries never expire
	ScopeLongTerm Scope = "long_term"
)

// ValidScopes is a slice of all valid scopes for validation
var ValidScopes = []Scope{
	ScopeShortTerm,
	ScopeLongTerm,
}

// IsValidScope checks if the given scope is valid
func IsValidScope(scope string) bool {
	for _, validScope := range ValidScopes {
		if string(validScope) == scope {
			return true
		}
	}
	return false
}
