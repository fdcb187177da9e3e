package memory_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubtguoyi/writing/internal/adapter/store/memory"
)

func TestStore_GetSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	_, ok, err := s.Get(ctx, "correctionRecords")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "correctionRecords", "[]"))
	v, ok, err := s.Get(ctx, "correctionRecords")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", v)
	assert.NoError(t, s.Ping(ctx))
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Set(ctx, fmt.Sprintf("k%d", i%3), "v")
			_, _, _ = s.Get(ctx, "k0")
		}(i)
	}
	wg.Wait()
	_, ok, _ := s.Get(ctx, "k2")
	assert.True(t, ok)
}

func TestStore_Update(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, "n", func(cur string, exists bool) (string, bool, error) {
				n := 0
				if exists {
					n, _ = strconv.Atoi(cur)
				}
				return strconv.Itoa(n + 1), true, nil
			})
		}()
	}
	wg.Wait()
	v, _, _ := s.Get(ctx, "n")
	assert.Equal(t, "50", v)

	require.NoError(t, s.Update(ctx, "n", func(string, bool) (string, bool, error) { return "0", false, nil }))
	v, _, _ = s.Get(ctx, "n")
	assert.Equal(t, "50", v)

	boom := errors.New("boom")
	assert.ErrorIs(t, s.Update(ctx, "n", func(string, bool) (string, bool, error) { return "", true, boom }), boom)
}
