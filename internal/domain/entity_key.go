package domain

import (
	"fmt"
	"regexp"
)

var (
	// entityTypePattern matches short lower-case tags such as "zone" or "vendor".
	entityTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)
	// entityIDPattern allows slugs, UUIDs and OSM-style ids ("way:123").
	entityIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,127}$`)
	regionPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,63}$`)
)

// EntityKey identifies one tracked entity
type EntityKey struct {
	Type string `json:"entity_type"`
	ID   string `json:"entity_id"`
}

// NewEntityKey validates and returns a key
func NewEntityKey(entityType, entityID string) (EntityKey, error) {
	key := EntityKey{Type: entityType, ID: entityID}
	if err := key.Validate(); err != nil {
		return EntityKey{}, err
	}
	return key, nil
}

// Validate rejects malformed keys before they reach the store.
func (k EntityKey) Validate() error {
	if !entityTypePattern.MatchString(k.Type) {
		return fmt.Errorf("%w: entity type %q", ErrInvalidEntityKey, k.Type)
	}
	if !entityIDPattern.MatchString(k.ID) {
		return fmt.Errorf("%w: entity id %q", ErrInvalidEntityKey, k.ID)
	}
	return nil
}

func (k EntityKey) String() string {
	return k.Type + "/" + k.ID
}

// ValidateRegion checks a region id such as "bangkok" or "th-bkk".
func ValidateRegion(regionID string) error {
	if !regionPattern.MatchString(regionID) {
		return fmt.Errorf("%w: %q", ErrInvalidRegion, regionID)
	}
	return nil
}
