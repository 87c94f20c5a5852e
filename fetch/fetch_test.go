package fetch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cachecoalesce/token"
)

func TestResolveOneFallsThroughNullFetchers(t *testing.T) {
	calls := 0
	f1 := Single(func(ctx context.Context, key string, tok token.Token) (string, bool, error) {
		calls++
		return "", false, nil
	})
	f2called := false
	f2 := Single(func(ctx context.Context, key string, tok token.Token) (string, bool, error) {
		f2called = true
		return "v", true, nil
	})

	chain, err := NewChain(f1, f2)
	require.NoError(t, err)

	v, err := chain.ResolveOne(context.Background(), "k", token.NewManual())
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	assert.True(t, f2called)
	assert.Equal(t, 1, calls)
}

func TestResolveOneExhaustionFails(t *testing.T) {
	f := Single(func(ctx context.Context, key string, tok token.Token) (string, bool, error) {
		return "", false, nil
	})
	chain, err := NewChain(f)
	require.NoError(t, err)

	_, err = chain.ResolveOne(context.Background(), "k", token.NewManual())
	assert.ErrorIs(t, err, ErrNoFetcherProduced)
}

func TestResolveOnePropagatesFetcherError(t *testing.T) {
	wantErr := errors.New("source unavailable")
	f := Single(func(ctx context.Context, key string, tok token.Token) (string, bool, error) {
		return "", false, wantErr
	})
	chain, err := NewChain(f)
	require.NoError(t, err)

	_, err = chain.ResolveOne(context.Background(), "k", token.NewManual())
	assert.ErrorIs(t, err, wantErr)
}

type batchResult struct {
	values map[string]int
}

func TestResolveManyBatchedSelector(t *testing.T) {
	var gotKeys []string
	batchFn := func(ctx context.Context, keys []string, tok token.Token) (batchResult, error) {
		gotKeys = append([]string(nil), keys...)
		return batchResult{values: map[string]int{"b": 1, "c": 2}}, nil
	}
	sel := func(r batchResult, key string) (int, bool) {
		v, ok := r.values[key]
		return v, ok
	}
	chain, err := NewChain(Batch(batchFn, sel))
	require.NoError(t, err)

	resolved, pending, err := chain.ResolveMany(context.Background(), []string{"b", "c"}, token.NewManual())
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, map[string]int{"b": 1, "c": 2}, resolved)
	assert.ElementsMatch(t, []string{"b", "c"}, gotKeys)
}

func TestResolveManyFallsThroughToNextFetcher(t *testing.T) {
	batchFn := func(ctx context.Context, keys []string, tok token.Token) (batchResult, error) {
		return batchResult{values: map[string]int{"b": 1}}, nil
	}
	sel := func(r batchResult, key string) (int, bool) {
		v, ok := r.values[key]
		return v, ok
	}
	fallback := Single(func(ctx context.Context, key string, tok token.Token) (int, bool, error) {
		return 99, true, nil
	})
	chain, err := NewChain(Batch(batchFn, sel), fallback)
	require.NoError(t, err)

	resolved, pending, err := chain.ResolveMany(context.Background(), []string{"b", "c"}, token.NewManual())
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 1, resolved["b"])
	assert.Equal(t, 99, resolved["c"])
}

func TestResolveManyLeavesUnresolvedKeysPending(t *testing.T) {
	f := Single(func(ctx context.Context, key string, tok token.Token) (int, bool, error) {
		if key == "found" {
			return 1, true, nil
		}
		return 0, false, nil
	})
	chain, err := NewChain(f)
	require.NoError(t, err)

	resolved, pending, err := chain.ResolveMany(context.Background(), []string{"found", "missing"}, token.NewManual())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved["found"])
	assert.Equal(t, []string{"missing"}, pending)
}

func TestHeadIsBatch(t *testing.T) {
	batchFn := func(ctx context.Context, keys []string, tok token.Token) (batchResult, error) {
		return batchResult{}, nil
	}
	sel := func(r batchResult, key string) (int, bool) { return 0, false }
	chain, err := NewChain(Batch(batchFn, sel))
	require.NoError(t, err)
	assert.True(t, chain.HeadIsBatch())

	chain2, err := NewChain(Single(func(ctx context.Context, key string, tok token.Token) (int, bool, error) {
		return 0, false, nil
	}))
	require.NoError(t, err)
	assert.False(t, chain2.HeadIsBatch())
}
