// Package location derives the current location of catalogued items from
// the movements they are related to.
package location

import (
	"strings"

	"github.com/systemshift/whereabouts/internal/core"
	"github.com/systemshift/whereabouts/internal/platform/logger"
)

// Default record type names. Matching is by prefix, so versioned type
// names such as "CollectionObject-5.1" are included.
const (
	DefaultItemType     = "CollectionObject"
	DefaultMovementType = "Movement"
)

// MatchesType reports whether the record's type starts with typeName
func MatchesType(rec *core.Record, typeName string) bool {
	if rec == nil || strings.TrimSpace(typeName) == "" {
		return false
	}
	return strings.HasPrefix(rec.Type, typeName)
}

// IsActive reports whether rec is neither a version snapshot, a proxy nor
// soft-deleted. A record whose lifecycle state cannot be read is inactive.
func IsActive(rec *core.Record, log *logger.Logger) bool {
	if rec == nil {
		return false
	}
	state, err := rec.State()
	if err != nil {
		if log != nil {
			log.Warn("error while identifying whether record is active", "record_id", rec.ID, "error", err)
		}
		return false
	}
	return !rec.IsVersion && !rec.IsProxy && state != core.StateDeleted
}
