package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/marida-corpus-mcp/internal/dataset"
	"github.com/ironsheep/marida-corpus-mcp/internal/dataset/datasettest"
)

func openCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRecordAndQuery(t *testing.T) {
	c := openCatalog(t)

	report := &dataset.VerifyReport{
		Split: dataset.Train,
		Total: 3,
		OK:    1,
		Problems: []dataset.Problem{
			{Index: 2, Identifier: "4-3-20_16PCC_12", Kind: dataset.ProblemRaster, Detail: "missing"},
			{Index: 0, Identifier: "1-12-19_48MYU_0", Kind: dataset.ProblemLabel, Detail: "no label"},
		},
	}
	first, err := c.Record(report)
	require.NoError(t, err)
	assert.NotEmpty(t, first.RunID)
	assert.Equal(t, 2, first.Problems)

	clean, err := c.Record(&dataset.VerifyReport{Split: dataset.Train, Total: 3, OK: 3})
	require.NoError(t, err)
	_, err = c.Record(&dataset.VerifyReport{Split: dataset.Val, Total: 1, OK: 1})
	require.NoError(t, err)

	runs, err := c.Runs(dataset.Train)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, clean.RunID, runs[0].RunID)
	assert.Equal(t, first.RunID, runs[1].RunID)

	all, err := c.Runs("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	latest, err := c.Latest(dataset.Train)
	require.NoError(t, err)
	assert.Equal(t, clean.RunID, latest.RunID)
	assert.Equal(t, 3, latest.OK)

	problems, err := c.Problems(first.RunID)
	require.NoError(t, err)
	require.Len(t, problems, 2)
	assert.Equal(t, 0, problems[0].Index)
	assert.Equal(t, dataset.ProblemLabel, problems[0].Kind)
	assert.Equal(t, "4-3-20_16PCC_12", problems[1].Identifier)

	none, err := c.Problems(clean.RunID)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestNotFound(t *testing.T) {
	c := openCatalog(t)

	_, err := c.Latest(dataset.Test)
	assert.True(t, errors.Is(err, ErrRunNotFound), "got %v", err)

	_, err = c.Problems("no-such-run")
	assert.True(t, errors.Is(err, ErrRunNotFound), "got %v", err)

	assert.True(t, errors.Is(c.Delete("no-such-run"), ErrRunNotFound))
}

func TestDeleteCascades(t *testing.T) {
	c := openCatalog(t)

	run, err := c.Record(&dataset.VerifyReport{
		Split:    dataset.Val,
		Total:    1,
		Problems: []dataset.Problem{{Index: 0, Identifier: "1-12-19_48MYU_0", Kind: dataset.ProblemRead}},
	})
	require.NoError(t, err)
	require.NoError(t, c.Delete(run.RunID))

	var n int
	require.NoError(t, c.db.QueryRow(`SELECT COUNT(*) FROM verify_problems`).Scan(&n))
	assert.Zero(t, n)
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(path)
	require.NoError(t, err)
	run, err := c.Record(&dataset.VerifyReport{Split: dataset.Train, Total: 2, OK: 2})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()
	latest, err := c.Latest(dataset.Train)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, latest.RunID)
}

func TestRecordVerifiedSplit(t *testing.T) {
	ids := []string{"1-12-19_48MYU_0", "1-12-19_48MYU_1"}
	cfg := datasettest.Write(t, datasettest.Options{
		Splits:    map[string][]string{dataset.Train: ids},
		NoRasters: ids[1:],
	})
	d, err := dataset.Open(cfg, dataset.Train)
	require.NoError(t, err)
	report, err := dataset.Verify(context.Background(), d, cfg.ImageSize, 1)
	require.NoError(t, err)

	c := openCatalog(t)
	run, err := c.Record(report)
	require.NoError(t, err)
	assert.Equal(t, 1, run.OK)

	problems, err := c.Problems(run.RunID)
	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, ids[1], problems[0].Identifier)
	assert.Equal(t, dataset.ProblemRaster, problems[0].Kind)
}
