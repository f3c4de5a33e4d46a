package core

import (
	"sort"
	"strings"
)

// FieldPath addresses one attribute of a profile, e.g. income.annual.
type FieldPath struct {
	Category string
	Name     string
}

func (f FieldPath) String() string {
	return f.Category + "." + f.Name
}

// ParseFieldPath parses "category.name". It returns false when either part
// is missing.
func ParseFieldPath(s string) (FieldPath, bool) {
	category, name, ok := strings.Cut(s, ".")
	if !ok || category == "" || name == "" {
		return FieldPath{}, false
	}
	return FieldPath{Category: category, Name: name}, true
}

// Profile is the aggregated per-owner view of accepted claims.
//
// Complete is a derived cache. Only the aggregator sets it, and only from a
// recomputation over Fields.
type Profile struct {
	OwnerID  string                        `json:"ownerId"`
	Fields   map[string]map[string]float64 `json:"fields"`
	Complete bool                          `json:"complete"`
}

// NewProfile returns an empty, incomplete profile for ownerID.
func NewProfile(ownerID string) *Profile {
	return &Profile{
		OwnerID: ownerID,
		Fields:  make(map[string]map[string]float64),
	}
}

// Value returns the value stored at path.
func (p *Profile) Value(path FieldPath) (float64, bool) {
	if p == nil {
		return 0, false
	}
	v, ok := p.Fields[path.Category][path.Name]
	return v, ok
}

// Has reports whether path holds a value.
func (p *Profile) Has(path FieldPath) bool {
	_, ok := p.Value(path)
	return ok
}

// Set writes value at path, creating the category as needed.
func (p *Profile) Set(path FieldPath, value float64) {
	if p.Fields == nil {
		p.Fields = make(map[string]map[string]float64)
	}
	category, ok := p.Fields[path.Category]
	if !ok {
		category = make(map[string]float64)
		p.Fields[path.Category] = category
	}
	category[path.Name] = value
}

// Paths lists every populated field in a stable order.
func (p *Profile) Paths() []FieldPath {
	if p == nil {
		return nil
	}
	var paths []FieldPath
	for category, fields := range p.Fields {
		for name := range fields {
			paths = append(paths, FieldPath{Category: category, Name: name})
		}
	}
	sort.Slice(paths, func(i, j int) bool {
		return paths[i].String() < paths[j].String()
	})
	return paths
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := &Profile{
		OwnerID:  p.OwnerID,
		Complete: p.Complete,
		Fields:   make(map[string]map[string]float64, len(p.Fields)),
	}
	for category, fields := range p.Fields {
		copied := make(map[string]float64, len(fields))
		for name, v := range fields {
			copied[name] = v
		}
		out.Fields[category] = copied
	}
	return out
}
