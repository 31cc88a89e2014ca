package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/convergent-io/convergent/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentDistinctIDs(t *testing.T) {
	const n = 20
	dir := t.TempDir()
	fake := &fakeKind{}
	ctx := context.Background()

	require.NoError(t, newTestEngine(t, dir, fake).Run(ctx, "prod", func(ctx context.Context, s *Scope) error {
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.Resource(ctx, "fake", fmt.Sprintf("res-%d", i), nil)
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
		return nil
	}))

	assert.Equal(t, n, fake.count("create:"))

	st, err := state.NewFileStore(dir)
	require.NoError(t, err)
	records, err := st.List(ctx, []string{"prod"})
	require.NoError(t, err)
	assert.Len(t, records, n)
}

func TestConcurrentSameID(t *testing.T) {
	dir := t.TempDir()
	fake := &fakeKind{}
	ctx := context.Background()

	var firstErr, secondErr error
	require.NoError(t, newTestEngine(t, dir, fake).Run(ctx, "prod", func(ctx context.Context, s *Scope) error {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, firstErr = s.Resource(ctx, "fake", "shared", nil)
		}()
		go func() {
			defer wg.Done()
			_, secondErr = s.Resource(ctx, "fake", "shared", nil)
		}()
		wg.Wait()
		return nil
	}))

	// Exactly one success and one duplicate error; the loser fails fast
	// instead of blocking behind the winner.
	var dup *DuplicateResourceError
	if firstErr != nil {
		require.NoError(t, secondErr)
		require.ErrorAs(t, firstErr, &dup)
	} else {
		require.Error(t, secondErr)
		require.ErrorAs(t, secondErr, &dup)
	}
	assert.Equal(t, 1, fake.count("create:shared"))

	st, err := state.NewFileStore(dir)
	require.NoError(t, err)
	records, err := st.List(ctx, []string{"prod"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
