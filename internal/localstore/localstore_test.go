package localstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/flowboard/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "autosave.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrNoAutosave)

	data := domain.NewNodeData(domain.NodeTypePromptBlock).(*domain.PromptBlockData)
	data.Template = "Hello {{name}}"
	data.Bindings["name"] = domain.VariableBinding{Name: "name", Source: domain.SourceInput}

	wf := &domain.Workflow{
		Name:  "draft",
		Nodes: []domain.Node{{ID: "p1", Type: domain.NodeTypePromptBlock, Data: data}},
		Edges: []domain.Edge{},
	}
	require.NoError(t, s.Save(ctx, wf))

	wf.Name = "draft v2"
	require.NoError(t, s.Save(ctx, wf))

	got, savedAt, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, savedAt.IsZero())
	assert.Equal(t, "draft v2", got.Name)

	p, ok := got.Nodes[0].PromptData()
	require.True(t, ok)
	assert.Equal(t, "Hello {{name}}", p.Template)
	assert.Equal(t, domain.SourceInput, p.Bindings["name"].Source)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))
	_, _, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrNoAutosave)
}

func TestStore_Corrupt(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (key, data, saved_at) VALUES (?, ?, ?)`, AutosaveKey, "{not json", "")
	require.NoError(t, err)

	_, _, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruptAutosave)
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "autosave.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, &domain.Workflow{Name: "kept"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	wf, _, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kept", wf.Name)
	assert.Equal(t, path, s.Path())
}
