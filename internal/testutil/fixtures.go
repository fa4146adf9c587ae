// Package testutil holds fixtures shared by the radstore tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/radstore/internal/index"
	"github.com/roach88/radstore/internal/record"
)

// OpenIndex opens a fresh SQLite index in a temporary directory, closed
// when the test ends.
func OpenIndex(t *testing.T) *index.Store {
	t.Helper()
	idx, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

// Chain names one record by its identifying values.
type Chain struct {
	Patient, Study, Series, Instance string
}

// Dataset builds a record of chain with a few display attributes and a
// pixel payload derived from the instance uid. extra overrides or adds
// attributes.
func Dataset(chain Chain, extra record.Attributes) *record.Dataset {
	attrs := record.Attributes{
		record.TagPatientID:         chain.Patient,
		record.TagPatientName:       "Doe^Jane",
		record.TagStudyInstanceUID:  chain.Study,
		record.TagStudyDescription:  "Chest CT",
		record.TagSeriesInstanceUID: chain.Series,
		record.TagModality:          "CT",
		record.TagSOPInstanceUID:    chain.Instance,
	}
	for tag, v := range extra {
		attrs[tag] = v
	}
	return &record.Dataset{Attributes: attrs, Pixels: []byte("pixels of " + chain.Instance)}
}

// Encode is Dataset encoded with the default record codec.
func Encode(t *testing.T, ds *record.Dataset) []byte {
	t.Helper()
	data, err := record.MustCBORCodec().Encode(ds)
	require.NoError(t, err)
	return data
}
