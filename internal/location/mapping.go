package location

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/systemshift/whereabouts/internal/core"
)

// Default fields copied from the most recent movement onto the item
const (
	ComputedCurrentLocationField = "computedCurrentLocation"
	CurrentLocationField         = "currentLocation"
)

// FieldMapper copies values from a movement onto an item. It returns the
// updated copy and whether any field changed; item is not modified.
type FieldMapper interface {
	ApplyMovementToItem(item, movement *core.Record) (*core.Record, bool)
}

// FieldPair maps one movement field onto one item field
type FieldPair struct {
	ItemField     string `yaml:"item"`
	MovementField string `yaml:"movement"`
}

// FieldMapping is the stock FieldMapper. Blank movement values never clear
// item fields.
type FieldMapping struct {
	Pairs []FieldPair `yaml:"fields"`
}

// DefaultFieldMapping copies currentLocation into computedCurrentLocation
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{Pairs: []FieldPair{{
		ItemField:     ComputedCurrentLocationField,
		MovementField: CurrentLocationField,
	}}}
}

// ParseFieldMapping decodes a YAML mapping document:
//
//	fields:
//	  - item: computedCurrentLocation
//	    movement: currentLocation
func ParseFieldMapping(data []byte) (FieldMapping, error) {
	var m FieldMapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return FieldMapping{}, fmt.Errorf("parsing field mapping: %w", err)
	}
	if len(m.Pairs) == 0 {
		return FieldMapping{}, fmt.Errorf("field mapping has no fields")
	}
	for i, p := range m.Pairs {
		if strings.TrimSpace(p.ItemField) == "" || strings.TrimSpace(p.MovementField) == "" {
			return FieldMapping{}, fmt.Errorf("field mapping entry %d: item and movement are required", i)
		}
	}
	return m, nil
}

// LoadFieldMapping reads a mapping file. An empty path yields the default.
func LoadFieldMapping(path string) (FieldMapping, error) {
	if path == "" {
		return DefaultFieldMapping(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FieldMapping{}, fmt.Errorf("reading field mapping: %w", err)
	}
	return ParseFieldMapping(data)
}

// ApplyMovementToItem implements FieldMapper
func (m FieldMapping) ApplyMovementToItem(item, movement *core.Record) (*core.Record, bool) {
	out := item.Clone()
	if out == nil || movement == nil {
		return out, false
	}
	changed := false
	for _, p := range m.Pairs {
		if strings.TrimSpace(movement.FieldString(p.MovementField)) == "" {
			continue
		}
		if out.FieldString(p.ItemField) == movement.FieldString(p.MovementField) {
			continue
		}
		out.Fields[p.ItemField] = movement.Fields[p.MovementField]
		changed = true
	}
	return out, changed
}
