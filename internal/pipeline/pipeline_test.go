package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/grantwell/scholarship-ingest/internal/audit"
	"github.com/grantwell/scholarship-ingest/internal/metrics"
	"github.com/grantwell/scholarship-ingest/internal/publisher/memory"
	"github.com/grantwell/scholarship-ingest/internal/scholar"
	snapmem "github.com/grantwell/scholarship-ingest/internal/snapshot/memory"
	storemem "github.com/grantwell/scholarship-ingest/internal/storage/memory"
)

func init() {
	metrics.Init()
}

type fakeValidator struct {
	result scholar.ValidationResult
}

func (v *fakeValidator) Validate(context.Context, scholar.Candidate) scholar.ValidationResult {
	return v.result
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

// slowValidator holds every call open long enough for another worker to reach
// the dedup check with the same candidate.
type slowValidator struct {
	result scholar.ValidationResult
	delay  time.Duration
}

func (v *slowValidator) Validate(context.Context, scholar.Candidate) scholar.ValidationResult {
	time.Sleep(v.delay)
	return v.result
}

type captureEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (e *captureEmitter) Emit(evt audit.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *captureEmitter) Events() []audit.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]audit.Event(nil), e.events...)
}

func goodResult() scholar.ValidationResult {
	return scholar.ValidationResult{
		ApplicationLinkValid:   true,
		HTTPStatus:             200,
		SSLValid:               true,
		LeadsToCorrectPage:     true,
		TitleMatches:           true,
		ApplicationFormPresent: true,
		MobileReachable:        true,
	}
}

func candidate() scholar.Candidate {
	return scholar.Candidate{
		Title:           "STEM Excellence Award",
		Provider:        "Acme Foundation",
		ApplicationLink: "https://acme.example/apply",
		SourceURL:       "https://acme.example/scholarships",
		SourceName:      "acme",
	}
}

type env struct {
	pipeline *Pipeline
	store    *storemem.Store
	pub      *memory.Publisher
	snaps    *snapmem.SnapshotStore
	emitter  *captureEmitter
}

func newEnv(t *testing.T, result scholar.ValidationResult) *env {
	t.Helper()
	return newEnvWith(t, &fakeValidator{result: result})
}

func newEnvWith(t *testing.T, validator scholar.Validator) *env {
	t.Helper()
	store := storemem.NewStore()
	pub := memory.New()
	snaps := snapmem.NewSnapshotStore()
	emitter := &captureEmitter{}
	p, err := New(
		Config{SnapshotRejects: true},
		store,
		validator,
		pub,
		snaps,
		emitter,
		&fakeClock{now: time.Unix(1700000000, 0).UTC()},
		&seqIDs{},
		zap.NewNop(),
	)
	require.NoError(t, err)
	return &env{pipeline: p, store: store, pub: pub, snaps: snaps, emitter: emitter}
}

func TestProcessAcceptsQualifiedCandidate(t *testing.T) {
	t.Parallel()

	e := newEnv(t, goodResult())
	record, err := e.pipeline.Process(context.Background(), "run-1", candidate())
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "id-1", record.ID)
	require.True(t, record.IsActive)
	require.Equal(t, scholar.LinkStatusValid, record.LinkStatus)
	require.Equal(t, 90, record.QualityScore)

	stored, err := e.store.Find(context.Background(), scholar.StoreFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)

	msgs := e.pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "scholarships.accepted", msgs[0].Topic)

	events := e.emitter.Events()
	require.Len(t, events, 1)
	require.Equal(t, audit.KindCandidateAccepted, events[0].Kind)
}

func TestProcessRejectsMissingFields(t *testing.T) {
	t.Parallel()

	e := newEnv(t, goodResult())
	c := candidate()
	c.ApplicationLink = ""
	record, err := e.pipeline.Process(context.Background(), "run-1", c)
	require.ErrorIs(t, err, scholar.ErrMissingFields)
	require.Nil(t, record)

	stored, err := e.store.Find(context.Background(), scholar.StoreFilter{})
	require.NoError(t, err)
	require.Empty(t, stored)

	events := e.emitter.Events()
	require.Len(t, events, 1)
	require.Equal(t, "MissingFields", events[0].Reason)
}

func TestProcessRejectsDuplicateAndRefreshesOriginal(t *testing.T) {
	t.Parallel()

	e := newEnv(t, goodResult())
	ctx := context.Background()

	first, err := e.pipeline.Process(ctx, "run-1", candidate())
	require.NoError(t, err)

	// Same title and provider with cosmetic differences still collides.
	dup := candidate()
	dup.Title = "  stem EXCELLENCE award!! "
	record, err := e.pipeline.Process(ctx, "run-1", dup)
	require.ErrorIs(t, err, scholar.ErrDuplicate)
	require.Nil(t, record)

	stored, err := e.store.Find(ctx, scholar.StoreFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, first.ID, stored[0].ID)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), stored[0].LastValidated)
}

func TestProcessConcurrentSameCandidateKeepsOneRecord(t *testing.T) {
	t.Parallel()

	// Both workers pass the dedup lookup before either saves; the store's
	// uniqueness guarantee must make exactly one of them win.
	e := newEnvWith(t, &slowValidator{result: goodResult(), delay: 50 * time.Millisecond})
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.pipeline.Process(ctx, "run-1", candidate())
		}(i)
	}
	wg.Wait()

	accepted, duplicates := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, scholar.ErrDuplicate):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, 1, duplicates)

	stored, err := e.store.Find(ctx, scholar.StoreFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.True(t, stored[0].IsActive)
}

func TestProcessAcceptsCandidateWithoutProvider(t *testing.T) {
	t.Parallel()

	e := newEnv(t, goodResult())
	c := candidate()
	c.Provider = ""
	record, err := e.pipeline.Process(context.Background(), "run-1", c)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.True(t, record.IsActive)
}

func TestProcessRejectsBrokenLink(t *testing.T) {
	t.Parallel()

	e := newEnv(t, scholar.ValidationResult{
		ApplicationLinkValid: false,
		HTTPStatus:           404,
		Errors:               []string{"HttpError(404)"},
	})
	record, err := e.pipeline.Process(context.Background(), "run-1", candidate())
	require.Nil(t, record)

	var lowErr *scholar.LowQualityError
	require.ErrorAs(t, err, &lowErr)
	require.Equal(t, 0, lowErr.Score)

	events := e.emitter.Events()
	require.Len(t, events, 1)
	require.Equal(t, "HttpError(404)", events[0].Reason)
	require.NotEmpty(t, events[0].SnapshotURI, "rejection evidence should be archived")

	msgs := e.pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "scholarships.rejected", msgs[0].Topic)
}

func TestProcessRejectsValidLinkBelowThreshold(t *testing.T) {
	t.Parallel()

	// Link works but the page shows none of the content signals: 40 points.
	e := newEnv(t, scholar.ValidationResult{
		ApplicationLinkValid: true,
		HTTPStatus:           200,
		MobileReachable:      true,
	})
	record, err := e.pipeline.Process(context.Background(), "run-1", candidate())
	require.Nil(t, record)

	var lowErr *scholar.LowQualityError
	require.ErrorAs(t, err, &lowErr)
	require.Equal(t, 40, lowErr.Score)

	events := e.emitter.Events()
	require.Len(t, events, 1)
	require.Equal(t, "LowQuality", events[0].Reason)
}

func TestProcessRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, &fakeValidator{}, nil, nil, nil, &fakeClock{}, &seqIDs{}, nil)
	require.Error(t, err)
}
