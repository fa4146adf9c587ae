package indexer

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/radstore/internal/fault"
	"github.com/roach88/radstore/internal/index"
	"github.com/roach88/radstore/internal/record"
	"github.com/roach88/radstore/internal/storage"
	"github.com/roach88/radstore/internal/testutil"
)

func sampleAttributes() record.Attributes {
	return record.Attributes{
		record.TagPatientID:         "P-001",
		record.TagPatientName:       "Müller^Hélène",
		record.TagStudyInstanceUID:  "1.2.3",
		record.TagAccessionNumber:   "acc 7",
		record.TagStudyDescription:  " brain mri ",
		record.TagSeriesInstanceUID: "1.2.3.4",
		record.TagModality:          "MR",
		record.TagSOPInstanceUID:    "1.2.3.4.5",
		record.TagInstanceNumber:    "3",
	}
}

// storeChain indexes attrs as a full chain in b and attaches the encoded
// record to the instance.
func storeChain(t *testing.T, b *memBackend, acc *storage.Accessor, attrs record.Attributes) [4]int64 {
	t.Helper()
	ids := storeChainQuiet(b, acc, attrs)
	require.Len(t, ids, 4)
	return [4]int64{ids[0], ids[1], ids[2], ids[3]}
}

func TestSetMainAttributes_PatientTagsAtEveryLevel(t *testing.T) {
	b := newMemBackend()
	id := b.create("study", record.LevelStudy, 0)

	require.NoError(t, SetMainAttributes(context.Background(), b, id, record.LevelStudy, sampleAttributes()))

	assert.Equal(t, record.Attributes{
		record.TagPatientID:        "P-001",
		record.TagPatientName:      "Müller^Hélène",
		record.TagStudyInstanceUID: "1.2.3",
		record.TagAccessionNumber:  "acc 7",
		record.TagStudyDescription: " brain mri ",
	}, b.main[id])

	assert.Equal(t, record.Attributes{
		record.TagPatientID:        "P-001",
		record.TagPatientName:      "MULLER^HELENE",
		record.TagStudyInstanceUID: "1.2.3",
		record.TagAccessionNumber:  "acc 7",
		record.TagStudyDescription: "BRAIN MRI",
	}, b.ident[id])
}

func TestSetMainAttributes_PatientLevelOnlyOwnTags(t *testing.T) {
	b := newMemBackend()
	id := b.create("patient", record.LevelPatient, 0)

	require.NoError(t, SetMainAttributes(context.Background(), b, id, record.LevelPatient, sampleAttributes()))
	assert.Equal(t, []record.Tag{record.TagPatientID, record.TagPatientName}, b.main[id].Tags())
}

func TestFindOneChildInstance(t *testing.T) {
	ctx := context.Background()
	b := newMemBackend()
	ids := storeChain(t, b, storage.NewAccessor(storage.NewMemoryArea()), sampleAttributes())

	got, err := FindOneChildInstance(ctx, b, ids[record.LevelPatient], record.LevelPatient)
	require.NoError(t, err)
	assert.Equal(t, ids[record.LevelInstance], got)

	got, err = FindOneChildInstance(ctx, b, ids[record.LevelInstance], record.LevelInstance)
	require.NoError(t, err)
	assert.Equal(t, ids[record.LevelInstance], got)

	lonely := b.create("lonely-study", record.LevelStudy, 0)
	_, err = FindOneChildInstance(ctx, b, lonely, record.LevelStudy)
	require.Error(t, err)
	assert.True(t, fault.IsInternal(err))
}

func TestReconstructor_ReplacesAttributes(t *testing.T) {
	ctx := context.Background()
	b := newMemBackend()
	acc := storage.NewAccessor(storage.NewMemoryArea())
	ids := storeChain(t, b, acc, sampleAttributes())

	series := ids[record.LevelSeries]
	b.main[series][record.TagSeriesDescription] = "stale"

	r := NewReconstructor(acc, record.MustCBORCodec(), nil)
	n, err := r.Level(ctx, b, record.LevelSeries)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotContains(t, b.main[series], record.TagSeriesDescription)
}

func TestReconstructor_MissingPayloadIsInternal(t *testing.T) {
	ctx := context.Background()
	b := newMemBackend()
	acc := storage.NewAccessor(storage.NewMemoryArea())
	ids := storeChain(t, b, acc, sampleAttributes())
	delete(b.attachments, ids[record.LevelInstance])

	_, err := NewReconstructor(acc, record.MustCBORCodec(), nil).All(ctx, b)
	require.Error(t, err)
	assert.True(t, fault.IsInternal(err))
}

func TestReconstructor_AgainstSQLiteIndex(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenIndex(t)

	acc := storage.NewAccessor(storage.NewMemoryArea())
	attrs := sampleAttributes()
	ids := record.PublicIDs(attrs)

	var studyID int64
	require.NoError(t, s.Update(ctx, func(tx *index.Tx) error {
		var parent int64
		for _, l := range record.Levels {
			id, err := tx.CreateResource(ctx, ids[l], l)
			require.NoError(t, err)
			if parent != 0 {
				require.NoError(t, tx.AttachChild(ctx, parent, id))
			}
			require.NoError(t, SetMainAttributes(ctx, tx, id, l, attrs))
			parent = id
			if l == record.LevelStudy {
				studyID = id
			}
		}
		data, err := record.MustCBORCodec().Encode(&record.Dataset{Attributes: attrs})
		require.NoError(t, err)
		info, err := acc.Write(data, storage.ContentRecord)
		require.NoError(t, err)
		return tx.AddAttachment(ctx, parent, info)
	}))

	var before record.Attributes
	require.NoError(t, s.View(ctx, func(tx *index.Tx) error {
		var err error
		before, err = tx.GetIdentifierAttributes(ctx, studyID)
		return err
	}))

	require.NoError(t, s.Update(ctx, func(tx *index.Tx) error {
		_, err := NewReconstructor(acc, record.MustCBORCodec(), nil).All(ctx, tx)
		return err
	}))

	require.NoError(t, s.View(ctx, func(tx *index.Tx) error {
		after, err := tx.GetIdentifierAttributes(ctx, studyID)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		return nil
	}))
}

func genAttributes() gopter.Gen {
	return gopter.CombineGens(
		gen.AlphaString(), gen.AnyString(), gen.AlphaString(),
		gen.AnyString(), gen.AlphaString(), gen.AnyString(),
	).Map(func(v []interface{}) record.Attributes {
		return record.Attributes{
			record.TagPatientID:         "P" + v[0].(string),
			record.TagPatientName:       v[1].(string),
			record.TagStudyInstanceUID:  "1." + v[2].(string),
			record.TagStudyDescription:  v[3].(string),
			record.TagSeriesInstanceUID: "2." + v[4].(string),
			record.TagSOPInstanceUID:    "3." + v[4].(string),
			record.TagInstanceNumber:    v[5].(string),
		}
	})
}

func genLevel() gopter.Gen {
	return gen.IntRange(int(record.LevelPatient), int(record.LevelInstance)).Map(func(v int) record.Level {
		return record.Level(v)
	})
}

// Property: indexing the same attribute set twice stores what indexing it
// once stores.
func TestProperty_IndexingIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("second application changes nothing", prop.ForAll(
		func(attrs record.Attributes, level record.Level) bool {
			ctx := context.Background()
			once, twice := newMemBackend(), newMemBackend()
			a := once.create("r", level, 0)
			b := twice.create("r", level, 0)

			if SetMainAttributes(ctx, once, a, level, attrs) != nil {
				return false
			}
			for i := 0; i < 2; i++ {
				if SetMainAttributes(ctx, twice, b, level, attrs) != nil {
					return false
				}
			}
			return assert.ObjectsAreEqual(once.main[a], twice.main[b]) &&
				assert.ObjectsAreEqual(once.ident[a], twice.ident[b])
		},
		genAttributes(), genLevel(),
	))

	properties.TestingRun(t)
}

// Property: reconstruction from the stored payload reproduces the
// attributes direct indexing produced, at every level.
func TestProperty_ReconstructionMatchesDirectIndexing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("reconstructed == indexed", prop.ForAll(
		func(attrs record.Attributes) bool {
			ctx := context.Background()
			b := newMemBackend()
			acc := storage.NewAccessor(storage.NewMemoryArea(), storage.WithCompression(storage.CompressionLZ4))

			ids := storeChainQuiet(b, acc, attrs)
			if ids == nil {
				return false
			}

			want := map[int64][2]record.Attributes{}
			for _, id := range ids {
				want[id] = [2]record.Attributes{b.main[id].Clone(), b.ident[id].Clone()}
			}

			if _, err := NewReconstructor(acc, record.MustCBORCodec(), nil).All(ctx, b); err != nil {
				return false
			}
			for _, id := range ids {
				if !assert.ObjectsAreEqual(want[id][0], b.main[id]) || !assert.ObjectsAreEqual(want[id][1], b.ident[id]) {
					return false
				}
			}
			return true
		},
		genAttributes(),
	))

	properties.TestingRun(t)
}

// storeChainQuiet is storeChain without a *testing.T, for use inside
// property functions.
func storeChainQuiet(b *memBackend, acc *storage.Accessor, attrs record.Attributes) []int64 {
	ctx := context.Background()
	publicIDs := record.PublicIDs(attrs)

	var ids []int64
	var parent int64
	for _, l := range record.Levels {
		id := b.create(publicIDs[l], l, parent)
		if SetMainAttributes(ctx, b, id, l, attrs) != nil {
			return nil
		}
		ids = append(ids, id)
		parent = id
	}

	data, err := record.MustCBORCodec().Encode(&record.Dataset{Attributes: attrs})
	if err != nil {
		return nil
	}
	info, err := acc.Write(data, storage.ContentRecord)
	if err != nil {
		return nil
	}
	b.attachments[parent] = map[storage.ContentType]storage.FileInfo{storage.ContentRecord: info}
	return ids
}
