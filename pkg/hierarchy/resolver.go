package hierarchy

import (
	"context"
	"fmt"
)

// Source provides the parent and child lookups a Resolver walks over.
// Store implements it directly; LRUSource and RedisSource decorate it.
type Source interface {
	Get(ctx context.Context, id int64) (*Container, error)
	Children(ctx context.Context, parentID int64) ([]Container, error)
}

// Resolver walks a container forest. It keeps no state between calls.
type Resolver struct {
	source Source
}

// NewResolver creates a resolver over source
func NewResolver(source Source) *Resolver {
	return &Resolver{source: source}
}

// Ancestors returns the parent chain of c, nearest first.
// A repeated id fails with ErrCycleDetected.
func (r *Resolver) Ancestors(ctx context.Context, c *Container) ([]Container, error) {
	visited := map[int64]struct{}{c.ID: {}}
	var ancestors []Container

	parentID := c.ParentID
	for parentID != nil {
		if _, seen := visited[*parentID]; seen {
			return nil, fmt.Errorf("%w: %s reaches %s:%d twice", ErrCycleDetected, c, c.Kind, *parentID)
		}
		visited[*parentID] = struct{}{}

		parent, err := r.source.Get(ctx, *parentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load parent %d of %s: %w", *parentID, c, err)
		}
		ancestors = append(ancestors, *parent)
		parentID = parent.ParentID
	}

	return ancestors, nil
}

// Descendants returns every container below c in breadth-first order.
// Each container appears once even if the source reports it under
// several parents; reaching c again fails with ErrCycleDetected.
func (r *Resolver) Descendants(ctx context.Context, c *Container) ([]Container, error) {
	seen := map[int64]struct{}{c.ID: {}}
	queue := []int64{c.ID}
	var descendants []Container

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		children, err := r.source.Children(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load children of %s:%d: %w", c.Kind, id, err)
		}
		for _, child := range children {
			if child.ID == c.ID {
				return nil, fmt.Errorf("%w: %s is its own descendant", ErrCycleDetected, c)
			}
			if _, dup := seen[child.ID]; dup {
				continue
			}
			seen[child.ID] = struct{}{}
			descendants = append(descendants, child)
			queue = append(queue, child.ID)
		}
	}

	return descendants, nil
}

// IsDescendantOf reports whether b is an ancestor of a
func (r *Resolver) IsDescendantOf(ctx context.Context, a, b *Container) (bool, error) {
	ancestors, err := r.Ancestors(ctx, a)
	if err != nil {
		return false, err
	}
	return containsID(ancestors, b.ID), nil
}

// IsAncestorOf reports whether b is a descendant of a
func (r *Resolver) IsAncestorOf(ctx context.Context, a, b *Container) (bool, error) {
	descendants, err := r.Descendants(ctx, a)
	if err != nil {
		return false, err
	}
	return containsID(descendants, b.ID), nil
}

func containsID(containers []Container, id int64) bool {
	for _, c := range containers {
		if c.ID == id {
			return true
		}
	}
	return false
}
