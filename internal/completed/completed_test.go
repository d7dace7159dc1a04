package completed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acroflow/acroflow/internal/logger"
	"github.com/acroflow/acroflow/internal/store"
)

func newArchive() *Archive {
	return NewArchive(store.NewMemStore(), logger.Nop())
}

func TestArchiveRoundTrip(t *testing.T) {
	a := newArchive()

	err := a.Save(Meta{ID: "r1", JobID: "j1", PDFID: "abc", Applied: 3, Skipped: 1}, Outputs{
		Editable:  []byte("%PDF filled"),
		Flattened: []byte("%PDF flat"),
		Plan:      []byte(`[{"row":1,"value":"x"}]`),
	})
	require.NoError(t, err)

	meta, err := a.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "j1", meta.JobID)
	assert.Equal(t, 3, meta.Applied)
	assert.True(t, meta.Flattened)
	assert.False(t, meta.CreatedAt.IsZero())

	pdf, err := a.Blob("r1", BlobEditable)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF filled"), pdf)

	plan, err := a.Blob("r1", BlobPlan)
	require.NoError(t, err)
	assert.Contains(t, string(plan), `"row":1`)
}

func TestArchiveSaveValidation(t *testing.T) {
	a := newArchive()

	assert.Error(t, a.Save(Meta{}, Outputs{Editable: []byte("x")}), "id required")
	assert.Error(t, a.Save(Meta{ID: "r1"}, Outputs{}), "filled pdf required")

	// Flattening is optional.
	require.NoError(t, a.Save(Meta{ID: "r2"}, Outputs{Editable: []byte("x")}))
	meta, err := a.Get("r2")
	require.NoError(t, err)
	assert.False(t, meta.Flattened)
	_, err = a.Blob("r2", BlobFlattened)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestArchiveListNewestFirst(t *testing.T) {
	a := newArchive()

	require.NoError(t, a.Save(Meta{ID: "older"}, Outputs{Editable: []byte("x")}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, a.Save(Meta{ID: "newer"}, Outputs{Editable: []byte("x")}))

	list, err := a.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[0].ID)
}

func TestArchiveDelete(t *testing.T) {
	a := newArchive()

	require.NoError(t, a.Save(Meta{ID: "r1"}, Outputs{Editable: []byte("x")}))
	require.NoError(t, a.Delete("r1"))

	_, err := a.Get("r1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := a.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestArchiveBlobNameValidation(t *testing.T) {
	a := newArchive()
	_, err := a.Blob("r1", "../../etc/passwd")
	assert.Error(t, err)
}
