package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
	"github.com/NicoCuadrado/Barrio-seguro/internal/database/mock"
	"github.com/NicoCuadrado/Barrio-seguro/internal/facematch"
	"github.com/NicoCuadrado/Barrio-seguro/internal/identity"
	"github.com/NicoCuadrado/Barrio-seguro/internal/recorder"
	"github.com/NicoCuadrado/Barrio-seguro/internal/visitor"
)

var t0 = time.Date(2024, 6, 10, 18, 30, 0, 0, time.UTC)

var defaultCfg = Config{
	ResidentTolerance: 0.5,
	VisitorTolerance:  0.5,
	Cooldown:          30 * time.Second,
}

type fakeCrops struct {
	tokens []string
	err    error
}

func (f *fakeCrops) PersistCrop(ctx context.Context, token string, frame []byte, region facematch.Region) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.tokens = append(f.tokens, token)
	return "/crops/visita_" + token + ".jpg", nil
}

type fixture struct {
	db      *mock.Store
	index   *identity.Index
	store   *visitor.Store
	crops   *fakeCrops
	matcher *Matcher
}

func newFixture(t *testing.T, residents ...database.Resident) *fixture {
	t.Helper()
	f := &fixture{
		db:    mock.NewStore(),
		index: identity.New(),
		crops: &fakeCrops{},
	}
	require.NoError(t, f.index.Load(residents))
	f.store = visitor.NewStore(f.db, visitor.WithTokenFunc(func(now time.Time) string {
		return now.Format("150405") + "_x"
	}))
	rec := recorder.New(f.db)
	f.matcher = New(f.index, f.store, rec, f.crops, defaultCfg, zaptest.NewLogger(t))
	return f
}

func ana() database.Resident {
	return database.Resident{ID: 1, Name: "Ana", Embedding: []float32{0, 0, 0}, Active: true}
}

func det(v ...float32) Detection {
	return Detection{
		Vector: v,
		Region: facematch.Region{Top: 0, Right: 10, Bottom: 10, Left: 0},
		Frame:  []byte("jpeg"),
	}
}

// Scenario A
func TestClassify_NewVisitor(t *testing.T) {
	f := newFixture(t)

	res, err := f.matcher.Classify(context.Background(), det(1, 1, 1), t0)
	require.NoError(t, err)
	assert.Equal(t, KindNewVisitor, res.Kind)
	assert.Equal(t, "Visita_183000_x", res.Label)
	assert.True(t, res.Recorded)
	assert.Equal(t, "/crops/visita_183000_x.jpg", res.CropPath)
	require.NotNil(t, res.Visitor)
	assert.Equal(t, 1, f.store.Len())

	events := f.db.Events()
	require.Len(t, events, 1)
	assert.Equal(t, database.SubjectVisitor, events[0].SubjectKind)
	assert.Equal(t, database.EventEntry, events[0].EventKind)
	assert.Equal(t, res.CropPath, events[0].ImageRef)
}

// Scenario B
func TestClassify_Resident(t *testing.T) {
	f := newFixture(t, ana())

	res, err := f.matcher.Classify(context.Background(), det(0.2, 0, 0), t0)
	require.NoError(t, err)
	assert.Equal(t, KindResident, res.Kind)
	assert.Equal(t, "Ana", res.Label)
	assert.InDelta(t, 0.2, res.Distance, 1e-6)
	assert.True(t, res.Recorded)
	assert.Zero(t, f.store.Len())

	events := f.db.Events()
	require.Len(t, events, 1)
	assert.Equal(t, database.SubjectResident, events[0].SubjectKind)
}

// P1
func TestClassify_ResidentTakesPrecedence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A visitor close to where Ana will be.
	res, err := f.matcher.Classify(ctx, det(0.1, 0, 0), t0)
	require.NoError(t, err)
	require.Equal(t, KindNewVisitor, res.Kind)

	require.NoError(t, f.index.Load([]database.Resident{ana()}))

	res, err = f.matcher.Classify(ctx, det(0.1, 0, 0), t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, KindResident, res.Kind)
	assert.Equal(t, "Ana", res.Label)
}

func TestClassify_OutsideResidentTolerance(t *testing.T) {
	f := newFixture(t, ana())

	res, err := f.matcher.Classify(context.Background(), det(0.6, 0, 0), t0)
	require.NoError(t, err)
	assert.Equal(t, KindNewVisitor, res.Kind)
}

func TestClassify_ReturningVisitorIsCooledDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.matcher.Classify(ctx, det(3, 3, 3), t0)
	require.NoError(t, err)

	second, err := f.matcher.Classify(ctx, det(3.1, 3, 3), t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, KindReturningVisitor, second.Kind)
	assert.Equal(t, first.Label, second.Label)
	assert.False(t, second.Recorded, "entry already logged when the visitor was created")
	assert.InDelta(t, 0.1, second.Distance, 1e-6)

	third, err := f.matcher.Classify(ctx, det(3, 3, 3), t0.Add(40*time.Second))
	require.NoError(t, err)
	assert.True(t, third.Recorded)
	assert.Len(t, f.db.Events(), 2)
	assert.Equal(t, 1, f.store.Len())
}

func TestClassify_CropFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.crops.err = errors.New("no space left on device")

	res, err := f.matcher.Classify(context.Background(), det(1, 1, 1), t0)
	require.NoError(t, err)
	assert.Equal(t, KindNewVisitor, res.Kind)
	assert.True(t, res.Recorded)
	assert.Empty(t, res.CropPath)
	assert.Len(t, f.db.Events(), 1)
}

func TestClassify_NotInitialized(t *testing.T) {
	db := mock.NewStore()
	store := visitor.NewStore(db)
	m := New(identity.New(), store, recorder.New(db), nil, defaultCfg, nil)

	_, err := m.Classify(context.Background(), det(1, 1, 1), t0)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Zero(t, store.Len())
	assert.Empty(t, db.Events())
	assert.Zero(t, db.CreateVisitorCalls)

	_, err = New(nil, nil, nil, nil, defaultCfg, nil).ClassifyBatch(context.Background(), []Detection{det(1, 1, 1)}, t0)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestClassify_VisitorPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.db.CreateVisitorError = errors.New("database is locked")

	_, err := f.matcher.Classify(context.Background(), det(1, 1, 1), t0)
	assert.ErrorIs(t, err, visitor.ErrPersistence)
	assert.Zero(t, f.store.Len())
	assert.Empty(t, f.db.Events())
	assert.Empty(t, f.crops.tokens)
}

func TestClassify_EventAppendFailure(t *testing.T) {
	f := newFixture(t, ana())
	f.db.AppendEventError = errors.New("database is locked")

	res, err := f.matcher.Classify(context.Background(), det(0, 0, 0), t0)
	assert.ErrorIs(t, err, recorder.ErrPersistence)
	assert.Equal(t, KindResident, res.Kind)
	assert.False(t, res.Recorded)
}

func TestClassifyBatch_PerDetectionErrors(t *testing.T) {
	f := newFixture(t, ana())
	ctx := context.Background()

	// second detection fails to persist, third still runs
	f.db.CreateVisitorError = errors.New("database is locked")
	results, err := f.matcher.ClassifyBatch(ctx, []Detection{det(0, 0, 0), det(5, 5, 5), det(0.1, 0, 0)}, t0)
	require.Error(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, KindResident, results[0].Kind)
	assert.ErrorIs(t, results[1].Err, visitor.ErrPersistence)
	assert.Equal(t, KindResident, results[2].Kind)
	assert.ErrorIs(t, err, visitor.ErrPersistence)
}

func TestClassifyBatch_DimensionMismatchAborts(t *testing.T) {
	f := newFixture(t, ana())

	results, err := f.matcher.ClassifyBatch(context.Background(),
		[]Detection{det(9, 9, 9), det(1, 1), det(8, 8, 8)}, t0)
	assert.ErrorIs(t, err, facematch.ErrDimensionMismatch)
	require.Len(t, results, 2)
	assert.Equal(t, KindNewVisitor, results[0].Kind)
	assert.Error(t, results[1].Err)
	assert.Equal(t, 1, f.store.Len(), "detections after the mismatch are not processed")
}

func TestClassifyBatch_Empty(t *testing.T) {
	f := newFixture(t)
	results, err := f.matcher.ClassifyBatch(context.Background(), nil, t0)
	require.NoError(t, err)
	assert.Empty(t, results)
}
