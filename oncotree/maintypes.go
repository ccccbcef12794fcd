package oncotree

import "strings"

// MainTypeRegistry hands out one MainType per case-insensitive name. A
// registry belongs to a single build and is not safe for concurrent writes.
type MainTypeRegistry struct {
	types []*MainType
	byKey map[string]*MainType
}

func NewMainTypeRegistry() *MainTypeRegistry {
	return &MainTypeRegistry{byKey: make(map[string]*MainType)}
}

// GetOrCreate returns the main type registered under name, ignoring case.
// A new entry gets the next id and keeps the casing it was first seen with.
func (r *MainTypeRegistry) GetOrCreate(name string) *MainType {
	key := strings.ToLower(name)
	if mt, ok := r.byKey[key]; ok {
		return mt
	}
	mt := &MainType{ID: len(r.types), Name: name}
	r.types = append(r.types, mt)
	r.byKey[key] = mt
	return mt
}

func (r *MainTypeRegistry) Get(name string) (*MainType, bool) {
	mt, ok := r.byKey[strings.ToLower(name)]
	return mt, ok
}

func (r *MainTypeRegistry) ByID(id int) (*MainType, bool) {
	if id < 0 || id >= len(r.types) {
		return nil, false
	}
	return r.types[id], true
}

// All returns the registered main types in id order.
func (r *MainTypeRegistry) All() []*MainType {
	out := make([]*MainType, len(r.types))
	copy(out, r.types)
	return out
}

func (r *MainTypeRegistry) Len() int {
	return len(r.types)
}
