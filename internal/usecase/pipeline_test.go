package usecase

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/bizscraper/internal/adapter/memory"
	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/proxy"
	"github.com/user/bizscraper/internal/repository"
	"github.com/user/bizscraper/internal/retry"
)

const dirURL = "https://dir.example/list"

type pipelineFixture struct {
	fetcher     *fakeFetcher
	search      *fakeSearch
	exporter    *fakeExporter
	store       *memory.CheckpointRepoImpl
	rotator     *proxy.Rotator
	allowDirect bool
}

func newPipelineFixture(names ...string) *pipelineFixture {
	fx := &pipelineFixture{
		fetcher:     newFakeFetcher(),
		search:      newFakeSearch(),
		exporter:    &fakeExporter{},
		store:       memory.NewCheckpointRepo(),
		allowDirect: true,
	}
	var list strings.Builder
	for _, name := range names {
		list.WriteString(`<div class="business-name">` + name + `</div>`)
		site := "https://" + strings.ToLower(strings.Fields(name)[0]) + ".example"
		fx.search.results[name] = []repository.SearchCandidate{
			{Title: name + " - Yelp", URL: "https://www.yelp.com/biz/" + strings.ToLower(strings.Fields(name)[0])},
			{Title: name, URL: site},
		}
		fx.fetcher.pages[site] = html(`<p>Contact: info@` + strings.TrimPrefix(site, "https://") + `</p>`)
	}
	fx.fetcher.pages[dirURL] = html(list.String())
	return fx
}

func (fx *pipelineFixture) pipeline(t *testing.T, opts PipelineOptions) *Pipeline {
	t.Helper()
	logger := zaptest.NewLogger(t)
	var src retry.IdentitySource
	if fx.rotator != nil {
		src = fx.rotator
	}
	policy := newTestPolicy(t, src, fx.allowDirect)
	return NewPipeline(PipelineDeps{
		Names:    NewNameExtractor(fx.fetcher, nil, policy, listProfile, logger),
		Contacts: NewContactExtractor(fx.fetcher, nil, policy, ContactExtractorOptions{FollowContactPage: true}, logger),
		NewResolver: func() URLResolver {
			return NewURLResolver(fx.search, nil, URLResolverOptions{}, logger)
		},
		Checkpoints: fx.store,
		Exporter:    fx.exporter,
	}, opts, logger)
}

func seedDirectory() entity.RunSeed {
	return entity.RunSeed{Targets: []entity.SeedTarget{{URL: dirURL}}}
}

func normalized(records []entity.BusinessRecord) []entity.BusinessRecord {
	out := make([]entity.BusinessRecord, len(records))
	for i, r := range records {
		r.UpdatedAt = time.Time{}
		out[i] = r
	}
	slices.SortFunc(out, func(a, b entity.BusinessRecord) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// TestPipeline_AcmeEndToEnd verifies the documented single-business scenario
func TestPipeline_AcmeEndToEnd(t *testing.T) {
	fx := newPipelineFixture("Acme Corp")
	fx.fetcher.pages["https://acme.example"] = html(`<p>Email info@acme.example</p><p>Phone +1-555-0100</p>`)

	var stages []entity.Stage
	p := fx.pipeline(t, PipelineOptions{OnStage: func(_ string, s entity.Stage) { stages = append(stages, s) }})
	result, err := p.Run(t.Context(), entity.NewPipelineRun("run-acme", seedDirectory()))
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	assert.Equal(t, "Acme Corp", rec.Name)
	assert.Equal(t, dirURL, rec.SourceURL)
	assert.Equal(t, "https://acme.example", rec.Website)
	assert.Equal(t, []string{"info@acme.example"}, rec.Contacts.Emails)
	assert.Equal(t, []string{"+1-555-0100"}, rec.Contacts.Phones)
	assert.Equal(t, entity.StatusResolved, rec.Status)

	assert.Equal(t, entity.Stages, stages)
	assert.Equal(t, 3, fx.store.Saves())
	assert.Equal(t, 1, fx.exporter.calls)
	assert.Equal(t, repository.FormatAll, fx.exporter.format)
	assert.Equal(t, 1, result.Report.Resolved)
	assert.Equal(t, "100.0%", result.Report.SuccessRate)
	assert.False(t, result.Aborted)
}

// TestPipeline_BlockedBusinessIsUnresolved verifies a business blocked three
// times ends unresolved with its identities evicted, and the run goes on
func TestPipeline_BlockedBusinessIsUnresolved(t *testing.T) {
	fx := newPipelineFixture("Blocked Biz", "Good Biz")
	fx.fetcher.failures["https://blocked.example"] = entity.OutcomeBlocked
	fx.rotator = newTestRotator(t, 5)
	fx.allowDirect = false

	result, err := fx.pipeline(t, PipelineOptions{Workers: 1}).Run(t.Context(), entity.NewPipelineRun("run-blocked", seedDirectory()))
	require.NoError(t, err)

	byName := map[string]entity.BusinessRecord{}
	for _, r := range result.Records {
		byName[r.Name] = r
	}
	blocked := byName["Blocked Biz"]
	assert.Equal(t, entity.StatusUnresolved, blocked.Status)
	assert.True(t, blocked.Contacts.Empty())
	assert.NotEmpty(t, blocked.Error)
	assert.Equal(t, 3, fx.fetcher.Calls("https://blocked.example"))

	good := byName["Good Biz"]
	assert.Equal(t, entity.StatusResolved, good.Status)
	assert.Equal(t, []string{"info@good.example"}, good.Contacts.Emails)

	unhealthy := 0
	for _, s := range fx.rotator.Stats() {
		if !s.Healthy {
			unhealthy++
		}
	}
	assert.Equal(t, 3, unhealthy)
	assert.Equal(t, []string{"Blocked Biz"}, result.Report.UnresolvedNames)
}

// TestPipeline_ResumeIsIdempotent verifies stopping after stage two and
// resuming yields the same records as an uninterrupted run
func TestPipeline_ResumeIsIdempotent(t *testing.T) {
	full := newPipelineFixture("Acme Corp", "Globex Corporation", "Initech")
	full.fetcher.pages["https://globex.example"] = html(`<a href="/contact">Contact</a>`)
	full.fetcher.pages["https://globex.example/contact"] = html(`<p>hello (at) globex (dot) example</p>`)
	want, err := full.pipeline(t, PipelineOptions{}).Run(t.Context(), entity.NewPipelineRun("run-full", seedDirectory()))
	require.NoError(t, err)

	fx := newPipelineFixture("Acme Corp", "Globex Corporation", "Initech")
	fx.fetcher.pages["https://globex.example"] = html(`<a href="/contact">Contact</a>`)
	fx.fetcher.pages["https://globex.example/contact"] = html(`<p>hello (at) globex (dot) example</p>`)

	stopped, err := fx.pipeline(t, PipelineOptions{StopAfter: entity.StageURLs}).Run(t.Context(), entity.NewPipelineRun("run-2", seedDirectory()))
	require.NoError(t, err)
	assert.True(t, stopped.Stopped)
	assert.Equal(t, 0, fx.exporter.calls)
	dirFetches := fx.fetcher.Calls(dirURL)
	queries := len(fx.search.Queries())

	resumed, err := fx.pipeline(t, PipelineOptions{}).Run(t.Context(), entity.NewPipelineRun("run-2", entity.RunSeed{}))
	require.NoError(t, err)

	assert.Equal(t, normalized(want.Records), normalized(resumed.Records))
	assert.Equal(t, dirFetches, fx.fetcher.Calls(dirURL), "completed stages are not repeated")
	assert.Len(t, fx.search.Queries(), queries)
	assert.Equal(t, 1, fx.exporter.calls)
}

// TestPipeline_AbortStillExports verifies pool exhaustion aborts the run and
// the partial results are exported
func TestPipeline_AbortStillExports(t *testing.T) {
	fx := newPipelineFixture("Acme Corp", "Globex", "Initech")
	fx.fetcher.failures["https://acme.example"] = entity.OutcomeBlocked
	fx.rotator = newTestRotator(t, 1)
	fx.allowDirect = false

	result, err := fx.pipeline(t, PipelineOptions{Workers: 1}).Run(t.Context(), entity.NewPipelineRun("run-abort", seedDirectory()))

	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrRunAborted)
	assert.ErrorIs(t, err, entity.ErrPoolExhausted)
	require.NotNil(t, result)
	assert.True(t, result.Aborted)
	assert.True(t, result.Report.Aborted)
	assert.Len(t, result.Records, 3)
	assert.Equal(t, 1, fx.exporter.calls)
	assert.Len(t, fx.exporter.records, 3)
	assert.Equal(t, entity.StageURLs, result.Report.LastStage)
	assert.Equal(t, 0, fx.fetcher.Calls("https://initech.example"), "no new fetches after the abort")

	_, err = fx.store.Load(t.Context(), "run-abort", entity.StageContacts)
	assert.ErrorIs(t, err, entity.ErrCheckpointNotFound)
}

// TestPipeline_ContactsNeverShrink verifies re-running contact extraction keeps known contacts
func TestPipeline_ContactsNeverShrink(t *testing.T) {
	for _, tc := range []struct {
		name  string
		setup func(fx *pipelineFixture)
	}{
		{"empty page", func(fx *pipelineFixture) { fx.fetcher.pages["https://acme.example"] = html(`<p>nothing</p>`) }},
		{"fetch failure", func(fx *pipelineFixture) { fx.fetcher.failures["https://acme.example"] = entity.OutcomeTimeout }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fx := newPipelineFixture("Acme Corp")
			tc.setup(fx)

			prior := entity.NewBusinessRecord("Acme Corp", dirURL, "")
			prior.SetWebsite("https://acme.example")
			prior.MergeContacts(entity.ContactSet{Emails: []string{"old@acme.example"}, Social: map[string]string{"facebook": "https://facebook.com/acme"}})
			require.NoError(t, fx.store.Save(t.Context(), &entity.Checkpoint{
				RunID:   "run-rerun",
				Stage:   entity.StageURLs,
				Seed:    seedDirectory(),
				Records: []entity.BusinessRecord{*prior},
			}))

			result, err := fx.pipeline(t, PipelineOptions{}).Run(t.Context(), entity.NewPipelineRun("run-rerun", entity.RunSeed{}))
			require.NoError(t, err)

			require.Len(t, result.Records, 1)
			rec := result.Records[0]
			assert.Equal(t, []string{"old@acme.example"}, rec.Contacts.Emails)
			assert.Equal(t, "https://facebook.com/acme", rec.Contacts.Social["facebook"])
			assert.Equal(t, entity.StatusResolved, rec.Status)
		})
	}
}

// TestPipeline_SeededNamesSkipExtraction verifies names files bypass the directory stage
func TestPipeline_SeededNamesSkipExtraction(t *testing.T) {
	fx := newPipelineFixture("Acme Corp")
	seed := entity.RunSeed{
		Names:    []entity.SeedName{{Name: "Acme Corp", Location: "Springfield"}, {Name: " Acme Corp "}},
		Location: "Shelbyville",
	}

	result, err := fx.pipeline(t, PipelineOptions{}).Run(t.Context(), entity.NewPipelineRun("run-names", seed))
	require.NoError(t, err)

	assert.Len(t, result.Records, 1)
	assert.Equal(t, 0, fx.fetcher.Calls(dirURL))
	assert.Equal(t, []string{`"Acme Corp" "Springfield" official website`}, fx.search.Queries())
}

// TestPipeline_QuotaExceededDoesNotAbort verifies quota exhaustion only stops resolutions
func TestPipeline_QuotaExceededDoesNotAbort(t *testing.T) {
	fx := newPipelineFixture("Acme Corp", "Globex")
	fx.search.err = entity.ErrQuotaExceeded

	result, err := fx.pipeline(t, PipelineOptions{Workers: 1}).Run(t.Context(), entity.NewPipelineRun("run-quota", seedDirectory()))
	require.NoError(t, err)

	for _, r := range result.Records {
		assert.Equal(t, entity.StatusUnresolved, r.Status)
		assert.Equal(t, "search quota exceeded", r.Error)
	}
	assert.Len(t, fx.search.Queries(), 1)
	assert.Equal(t, 1, fx.exporter.calls)
	assert.Equal(t, 2, result.Report.Unresolved)
}

// TestPipeline_CancelledRunExportsPartialResults verifies cancellation is a run abort
func TestPipeline_CancelledRunExportsPartialResults(t *testing.T) {
	fx := newPipelineFixture("Acme Corp")
	ctx, cancel := context.WithCancel(t.Context())
	p := fx.pipeline(t, PipelineOptions{OnStage: func(_ string, s entity.Stage) {
		if s == entity.StageNames {
			cancel()
		}
	}})

	result, err := p.Run(ctx, entity.NewPipelineRun("run-cancel", seedDirectory()))
	assert.ErrorIs(t, err, entity.ErrRunAborted)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Equal(t, 1, fx.exporter.calls)
	assert.Equal(t, 1, result.Report.Pending)
}

// TestPipeline_EmptySeedIsConfigurationError verifies runs need input
func TestPipeline_EmptySeedIsConfigurationError(t *testing.T) {
	fx := newPipelineFixture()
	_, err := fx.pipeline(t, PipelineOptions{}).Run(t.Context(), entity.NewPipelineRun("run-empty", entity.RunSeed{}))
	assert.ErrorIs(t, err, entity.ErrConfiguration)
}
