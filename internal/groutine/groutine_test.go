package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoNamesTheGoroutine(t *testing.T) {
	names := make(chan string, 1)

	done := Go(context.Background(), "worker-42", func(ctx context.Context) {
		names <- Name(ctx)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "goroutine MUST finish")
	}
	assert.Equal(t, "worker-42", <-names)
}

func TestGoNilParent(t *testing.T) {
	//nolint:staticcheck // nil parent is part of the contract
	done := Go(nil, "orphan", func(ctx context.Context) {
		assert.NotNil(t, ctx)
	})
	<-done
}

func TestNameWithoutValue(t *testing.T) {
	assert.Empty(t, Name(context.Background()))
	//nolint:staticcheck
	assert.Empty(t, Name(nil))
}
