package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type recordingExecutor struct {
	batches [][]Statement
	err     error
}

func (e *recordingExecutor) Write(_ context.Context, statements ...Statement) error {
	if e.err != nil {
		return e.err
	}
	e.batches = append(e.batches, statements)
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestProvenanceService_ProjectEntity(t *testing.T) {
	exec := &recordingExecutor{}
	svc := NewProvenanceService(exec, testLogger())

	entity := models.UnifiedEntity{ID: "u1", Name: "Акварель", NormalizedKey: "акварель akvarel"}
	refs := []models.RecordRef{{Source: models.SourceDomRF, ID: "r1"}, {Source: models.SourceAvito, ID: "a1"}}

	require.NoError(t, svc.ProjectEntity(context.Background(), entity, refs))
	require.Len(t, exec.batches, 1)

	batch := exec.batches[0]
	require.Len(t, batch, 3)
	assert.Equal(t, "u1", batch[0].Params["id"])
	assert.Equal(t, "акварель akvarel", batch[0].Params["key"])

	sources := batch[1].Params["sources"].([]map[string]any)
	require.Len(t, sources, 2)
	assert.Equal(t, "domrf/r1", sources[0]["key"])
	assert.Equal(t, "avito", sources[1]["source"])

	assert.Equal(t, []string{"domrf/r1", "avito/a1"}, batch[2].Params["keys"])
}

func TestProvenanceService_Collapsed(t *testing.T) {
	t.Run("repoints removed records", func(t *testing.T) {
		exec := &recordingExecutor{}
		svc := NewProvenanceService(exec, testLogger())

		require.NoError(t, svc.Collapsed(context.Background(), models.SourceAvito, "a8", []string{"a5", "a2"}))
		require.Len(t, exec.batches, 1)

		params := exec.batches[0][0].Params
		assert.Equal(t, []string{"avito/a5", "avito/a2"}, params["removed"])
		assert.Equal(t, "avito/a8", params["canonical"])
		assert.Equal(t, "a8", params["canonical_id"])
	})

	t.Run("nothing removed is a no-op", func(t *testing.T) {
		exec := &recordingExecutor{}
		require.NoError(t, NewProvenanceService(exec, testLogger()).Collapsed(context.Background(), models.SourceAvito, "a8", nil))
		assert.Empty(t, exec.batches)
	})

	t.Run("executor failure is wrapped", func(t *testing.T) {
		cause := errors.New("bolt: connection refused")
		exec := &recordingExecutor{err: cause}
		err := NewProvenanceService(exec, testLogger()).Collapsed(context.Background(), models.SourceAvito, "a8", []string{"a5"})
		assert.ErrorIs(t, err, cause)
	})
}
