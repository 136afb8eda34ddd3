package conversations

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepoAppendAssignsOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	require.NoError(t, repo.Create(ctx, Conversation{ID: "c1", DocumentID: "d1", OwnerID: "u1", CreatedAt: time.Now()}))

	got, err := repo.Append(ctx, "c1",
		Message{Role: RoleHuman, Content: "hi"},
		Message{Role: RoleAI, Content: "hello", Metadata: map[string]string{"model": "local"}},
	)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Seq)
	assert.Equal(t, 2, got[1].Seq)

	conv, err := repo.Get(ctx, "d1", "c1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, RoleHuman, conv.Messages[0].Role)
	assert.Equal(t, "local", conv.Messages[1].Metadata["model"])

	conv.Messages[1].Metadata["model"] = "mutated"
	again, _ := repo.Get(ctx, "d1", "c1")
	assert.Equal(t, "local", again.Messages[1].Metadata["model"], "Get returns a copy")
}

func TestMemoryRepoScopesToDocument(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	require.NoError(t, repo.Create(ctx, Conversation{ID: "c1", DocumentID: "d1"}))

	_, err := repo.Get(ctx, "d2", "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "d2", "c1"), ErrNotFound)
	assert.ErrorIs(t, repo.Create(ctx, Conversation{ID: "c1", DocumentID: "d1"}), ErrInvalidInput)

	_, err = repo.Append(ctx, "missing", Message{Role: RoleHuman, Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Append(ctx, "c1", Message{Role: "system", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMemoryRepoConcurrentAppendsKeepEveryMessage(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	require.NoError(t, repo.Create(ctx, Conversation{ID: "c1", DocumentID: "d1"}))

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Append(ctx, "c1",
				Message{Role: RoleHuman, Content: fmt.Sprintf("q%d", i)},
				Message{Role: RoleAI, Content: fmt.Sprintf("a%d", i)},
			)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	conv, err := repo.Get(ctx, "d1", "c1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, writers*2)
	for i := 0; i < len(conv.Messages); i += 2 {
		assert.Equal(t, i+1, conv.Messages[i].Seq)
		assert.Equal(t, RoleHuman, conv.Messages[i].Role)
		assert.Equal(t, RoleAI, conv.Messages[i+1].Role)
		assert.Equal(t, "a"+conv.Messages[i].Content[1:], conv.Messages[i+1].Content, "pairs stay adjacent")
	}
}

func TestMemoryRepoDeleteByDocument(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	require.NoError(t, repo.Create(ctx, Conversation{ID: "c1", DocumentID: "d1"}))
	require.NoError(t, repo.Create(ctx, Conversation{ID: "c2", DocumentID: "d1"}))
	require.NoError(t, repo.Create(ctx, Conversation{ID: "c3", DocumentID: "d2"}))

	require.NoError(t, repo.DeleteByDocument(ctx, "d1"))
	_, err := repo.Get(ctx, "d1", "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Get(ctx, "d2", "c3")
	assert.NoError(t, err)
}
