package hierarchy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapSource is an in-memory Source keyed by container ID
type mapSource struct {
	containers map[int64]Container
	gets       int
	failOn     int64
}

func newMapSource(containers ...Container) *mapSource {
	s := &mapSource{containers: make(map[int64]Container)}
	for _, c := range containers {
		c.Kind = KindOrganization
		s.containers[c.ID] = c
	}
	return s
}

func (s *mapSource) Get(_ context.Context, id int64) (*Container, error) {
	s.gets++
	if id == s.failOn {
		return nil, errors.New("connection reset")
	}
	c, ok := s.containers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *mapSource) Children(_ context.Context, parentID int64) ([]Container, error) {
	if parentID == s.failOn {
		return nil, errors.New("connection reset")
	}
	var children []Container
	for id := int64(1); id <= int64(len(s.containers))+10; id++ {
		c, ok := s.containers[id]
		if ok && c.ParentID != nil && *c.ParentID == parentID {
			children = append(children, c)
		}
	}
	return children, nil
}

func ptr(id int64) *int64 { return &id }

func ids(containers []Container) []int64 {
	out := make([]int64, 0, len(containers))
	for _, c := range containers {
		out = append(out, c.ID)
	}
	return out
}

// chain builds 1 <- 2 <- 3, plus 4 under 1 and 5 under 4
func chain() *mapSource {
	return newMapSource(
		Container{ID: 1, Name: "A"},
		Container{ID: 2, Name: "B", ParentID: ptr(1)},
		Container{ID: 3, Name: "C", ParentID: ptr(2)},
		Container{ID: 4, Name: "D", ParentID: ptr(1)},
		Container{ID: 5, Name: "E", ParentID: ptr(4)},
	)
}

func TestResolverAncestors(t *testing.T) {
	src := chain()
	r := NewResolver(src)
	ctx := context.Background()

	c, _ := src.Get(ctx, 3)
	ancestors, err := r.Ancestors(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, ids(ancestors), "nearest first")

	root, _ := src.Get(ctx, 1)
	ancestors, err = r.Ancestors(ctx, root)
	require.NoError(t, err)
	assert.Empty(t, ancestors)
}

func TestResolverDescendants(t *testing.T) {
	src := chain()
	r := NewResolver(src)
	ctx := context.Background()

	root, _ := src.Get(ctx, 1)
	descendants, err := r.Descendants(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4, 3, 5}, ids(descendants), "breadth first")

	leaf, _ := src.Get(ctx, 5)
	descendants, err = r.Descendants(ctx, leaf)
	require.NoError(t, err)
	assert.Empty(t, descendants)
}

func TestResolverRelations(t *testing.T) {
	src := chain()
	r := NewResolver(src)
	ctx := context.Background()

	a, _ := src.Get(ctx, 1)
	c, _ := src.Get(ctx, 3)
	e, _ := src.Get(ctx, 5)

	ok, err := r.IsDescendantOf(ctx, c, a)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsAncestorOf(ctx, a, c)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsDescendantOf(ctx, a, c)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.IsAncestorOf(ctx, c, e)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.IsDescendantOf(ctx, a, a)
	require.NoError(t, err)
	assert.False(t, ok, "a container is not its own descendant")
}

func TestResolverCycleDetection(t *testing.T) {
	ctx := context.Background()

	t.Run("ancestor loop", func(t *testing.T) {
		src := newMapSource(
			Container{ID: 1, ParentID: ptr(3)},
			Container{ID: 2, ParentID: ptr(1)},
			Container{ID: 3, ParentID: ptr(2)},
		)
		c, _ := src.Get(ctx, 3)
		_, err := NewResolver(src).Ancestors(ctx, c)
		assert.ErrorIs(t, err, ErrCycleDetected)
		assert.LessOrEqual(t, src.gets, 4, "walk must stop at the first repeat")
	})

	t.Run("self parent", func(t *testing.T) {
		src := newMapSource(Container{ID: 1, ParentID: ptr(1)})
		c, _ := src.Get(ctx, 1)
		_, err := NewResolver(src).Ancestors(ctx, c)
		assert.ErrorIs(t, err, ErrCycleDetected)
	})

	t.Run("descendant loop", func(t *testing.T) {
		src := newMapSource(
			Container{ID: 1, ParentID: ptr(2)},
			Container{ID: 2, ParentID: ptr(1)},
		)
		c, _ := src.Get(ctx, 1)
		_, err := NewResolver(src).Descendants(ctx, c)
		assert.ErrorIs(t, err, ErrCycleDetected)
	})
}

func TestResolverPropagatesSourceErrors(t *testing.T) {
	src := chain()
	src.failOn = 1
	r := NewResolver(src)
	ctx := context.Background()

	c := &Container{ID: 2, Kind: KindOrganization, ParentID: ptr(1)}
	_, err := r.Ancestors(ctx, c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	_, err = r.Descendants(ctx, &Container{ID: 1, Kind: KindOrganization})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCycleDetected)
}

func TestResolverDanglingParent(t *testing.T) {
	src := newMapSource(Container{ID: 2, ParentID: ptr(99)})
	c, _ := src.Get(context.Background(), 2)

	_, err := NewResolver(src).Ancestors(context.Background(), c)
	assert.ErrorIs(t, err, ErrNotFound)
}
