// Package labels maintains the bijection between integer category ids and
// label names.
//
// A Resolver is per conversion. It is not safe for concurrent use: index
// assignment depends on call order, so callers that convert independent
// datasets in parallel give each one its own Resolver.
package labels

import (
	"fmt"

	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/model"
)

type Resolver struct {
	byName  map[string]int
	byIndex map[int]string
	order   []int
}

func NewResolver() *Resolver {
	return &Resolver{
		byName:  make(map[string]int),
		byIndex: make(map[int]string),
	}
}

// FromCategories seeds a resolver with the id/name pairs of a COCO dataset.
func FromCategories(categories []model.CocoCategory) (*Resolver, error) {
	r := NewResolver()
	for _, c := range categories {
		if err := r.Register(c.ID, c.Name); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register records an existing (index, name) pair. Re-registering the same
// pair is a no-op; anything that would break the bijection is rejected.
func (r *Resolver) Register(index int, name string) error {
	if name == "" {
		return common.SchemaMismatch("category %d has an empty name", index)
	}
	if existing, ok := r.byIndex[index]; ok {
		if existing == name {
			return nil
		}
		return common.SchemaMismatch("category id %d maps to both %q and %q", index, existing, name)
	}
	if existing, ok := r.byName[name]; ok {
		return common.SchemaMismatch("category %q has ids %d and %d", name, existing, index)
	}
	r.insert(index, name)
	return nil
}

// ResolveOrCreate returns the index for name, assigning the next unused
// index (count of known labels + 1, skipping any taken ids) when name is new.
func (r *Resolver) ResolveOrCreate(name string) int {
	if idx, ok := r.byName[name]; ok {
		return idx
	}
	idx := len(r.order) + 1
	for {
		if _, taken := r.byIndex[idx]; !taken {
			break
		}
		idx++
	}
	r.insert(idx, name)
	return idx
}

func (r *Resolver) insert(index int, name string) {
	r.byName[name] = index
	r.byIndex[index] = name
	r.order = append(r.order, index)
}

// NameFor fails with ErrUnknownCategory when index was never registered.
func (r *Resolver) NameFor(index int) (string, error) {
	name, ok := r.byIndex[index]
	if !ok {
		return "", common.UnknownCategory("category id %d is not registered", index)
	}
	return name, nil
}

func (r *Resolver) IndexFor(name string) (int, bool) {
	idx, ok := r.byName[name]
	return idx, ok
}

func (r *Resolver) Len() int {
	return len(r.order)
}

// Labels returns the label names in registration order.
func (r *Resolver) Labels() []string {
	out := make([]string, len(r.order))
	for i, idx := range r.order {
		out[i] = r.byIndex[idx]
	}
	return out
}

// Categories renders the bijection as COCO categories in registration order.
func (r *Resolver) Categories() []model.CocoCategory {
	out := make([]model.CocoCategory, len(r.order))
	for i, idx := range r.order {
		out[i] = model.CocoCategory{ID: idx, Name: r.byIndex[idx]}
	}
	return out
}

func (r *Resolver) String() string {
	return fmt.Sprintf("Resolver(%d labels)", len(r.order))
}
