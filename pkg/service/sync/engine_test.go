package sync_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/plugin"
	"github.com/cronxco/tapestry/pkg/queue/memqueue"
	"github.com/cronxco/tapestry/pkg/repository/memory"
	syncsvc "github.com/cronxco/tapestry/pkg/service/sync"
	"github.com/cronxco/tapestry/pkg/service/token"
)

// fakePlugin serves scripted pages and records the cursors it was asked to
// fetch. Items are {"id": "..."} and normalize to one minimal draft each.
type fakePlugin struct {
	mu      sync.Mutex
	pages   []*model.Page
	fetches []json.RawMessage

	// rateLimitOnFetch throttles the fetch with this ordinal (1-based)
	// exactly once
	rateLimitOnFetch int
	rateLimited      bool

	// badItems normalize to an error; invalidItems normalize to a draft
	// that fails validation
	badItems     map[string]bool
	invalidItems map[string]bool

	endless bool
}

var _ interfaces.Plugin = &fakePlugin{}

func (p *fakePlugin) Service() types.Service { return "fake" }

func (p *fakePlugin) Instances() []model.InstanceSpec {
	return []model.InstanceSpec{{Type: "items"}}
}

func (p *fakePlugin) BaseURL() string              { return "https://fake.example.com" }
func (p *fakePlugin) AuthScheme() types.AuthScheme { return types.AuthSchemeBearer }

func (p *fakePlugin) InitialCursor(integration *model.Integration, now time.Time) (json.RawMessage, error) {
	return json.RawMessage(`{"page":0}`), nil
}

func (p *fakePlugin) FetchPage(ctx context.Context, client interfaces.ProviderClient, integration *model.Integration, cursor json.RawMessage) (*model.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fetches = append(p.fetches, cursor)
	n := len(p.fetches)

	if p.rateLimitOnFetch > 0 && n == p.rateLimitOnFetch && !p.rateLimited {
		p.rateLimited = true
		return nil, &model.RateLimitError{RetryAfter: 10 * time.Millisecond}
	}

	if p.endless {
		return &model.Page{
			Items: []json.RawMessage{json.RawMessage(fmt.Sprintf(`{"id":"item-%d"}`, n))},
			Next:  json.RawMessage(fmt.Sprintf(`{"page":%d}`, n)),
		}, nil
	}

	idx := n - 1
	if p.rateLimited && p.rateLimitOnFetch > 0 {
		idx-- // the throttled fetch consumed no page
	}
	if idx >= len(p.pages) {
		return &model.Page{}, nil
	}
	return p.pages[idx], nil
}

func (p *fakePlugin) Normalize(ctx context.Context, integration *model.Integration, item json.RawMessage) ([]*model.EventDraft, error) {
	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(item, &parsed); err != nil {
		return nil, err
	}

	if p.badItems[parsed.ID] {
		return nil, fmt.Errorf("unparseable item %s", parsed.ID)
	}

	draft := &model.EventDraft{
		SourceID: "fake_" + parsed.ID,
		Service:  "fake",
		Domain:   "testing",
		Action:   "observed_item",
		Time:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Actor: model.ObjectDraft{
			Concept:    "account",
			ObjectType: "fake_account",
			Title:      "Fake",
		},
	}
	if p.invalidItems[parsed.ID] {
		draft.Action = ""
	}
	return []*model.EventDraft{draft}, nil
}

func (p *fakePlugin) fetchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fetches)
}

func (p *fakePlugin) fetchedCursor(i int) json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches[i]
}

func page(next string, ids ...string) *model.Page {
	pg := &model.Page{}
	for _, id := range ids {
		pg.Items = append(pg.Items, json.RawMessage(fmt.Sprintf(`{"id":%q}`, id)))
	}
	if next != "" {
		pg.Next = json.RawMessage(next)
	}
	return pg
}

type engineHarness struct {
	repo        *memory.Memory
	queue       *memqueue.Queue
	engine      *syncsvc.Engine
	integration *model.Integration
}

func newEngineHarness(t *testing.T, p *fakePlugin) *engineHarness {
	t.Helper()
	ctx := context.Background()

	repo := memory.New()

	group, err := repo.Group().Create(ctx, &model.IntegrationGroup{
		UserID:      "test-user",
		Service:     "fake",
		AccessToken: "valid-token",
	})
	gt.NoError(t, err).Required()

	integration, err := repo.Integration().Create(ctx, &model.Integration{
		GroupID:      group.ID,
		UserID:       "test-user",
		Service:      "fake",
		InstanceType: "items",
	})
	gt.NoError(t, err).Required()

	registry, err := plugin.NewRegistry(p)
	gt.NoError(t, err).Required()

	q := memqueue.New()
	t.Cleanup(q.Stop)

	engine := syncsvc.New(repo, q, registry, token.New(repo, nil),
		syncsvc.WithClientFactory(func(p interfaces.Plugin, accessToken string, integrationID types.IntegrationID) interfaces.ProviderClient {
			return nil // the fake plugin never touches the client
		}))
	q.Handle(syncsvc.TaskTypeStep, engine.HandleStep)

	return &engineHarness{repo: repo, queue: q, engine: engine, integration: integration}
}

func (h *engineHarness) run(t *testing.T, timeboxUntil *time.Time) *model.Integration {
	t.Helper()
	ctx := context.Background()

	gt.NoError(t, h.engine.Trigger(ctx, h.integration.ID, timeboxUntil)).Required()
	h.queue.Wait()

	reloaded, err := h.repo.Integration().Get(ctx, h.integration.ID)
	gt.NoError(t, err).Required()
	return reloaded
}

func (h *engineHarness) events(t *testing.T) []*model.Event {
	t.Helper()
	events, err := h.repo.Event().ListByIntegration(context.Background(), h.integration.ID, 0)
	gt.NoError(t, err).Required()
	return events
}

func TestEngineCleanRun(t *testing.T) {
	p := &fakePlugin{pages: []*model.Page{
		page(`{"page":1}`, "a", "b"),
		page("", "c"),
	}}
	h := newEngineHarness(t, p)

	got := h.run(t, nil)

	gt.Value(t, p.fetchCount()).Equal(2)
	gt.Array(t, h.events(t)).Length(3)
	gt.Value(t, got.LastSuccessfulUpdateAt).NotNil()
	gt.Value(t, got.LastTriggeredAt).Nil()
}

func TestEngineRerunSkipsIngestedItems(t *testing.T) {
	p := &fakePlugin{pages: []*model.Page{
		page("", "a", "b"),
		page("", "a", "b"),
	}}
	h := newEngineHarness(t, p)

	h.run(t, nil)
	gt.Array(t, h.events(t)).Length(2)

	// second run re-serves the same items; idempotency holds
	h.run(t, nil)

	// the in-flight claim from run one was released, so run two proceeds
	gt.Value(t, p.fetchCount()).Equal(2)
	gt.Array(t, h.events(t)).Length(2)
}

func TestEnginePageCap(t *testing.T) {
	p := &fakePlugin{endless: true}
	h := newEngineHarness(t, p)

	got := h.run(t, nil)

	// the cap bounds fetches; the truncated run still counts as a success
	gt.Value(t, p.fetchCount()).Equal(syncsvc.PageCap)
	gt.Value(t, got.LastSuccessfulUpdateAt).NotNil()
	gt.Value(t, got.LastTriggeredAt).Nil()
	gt.Array(t, h.events(t)).Length(syncsvc.PageCap)
}

func TestEngineRateLimitDefersSameCursor(t *testing.T) {
	p := &fakePlugin{
		pages:            []*model.Page{page("", "a")},
		rateLimitOnFetch: 1,
	}
	h := newEngineHarness(t, p)

	got := h.run(t, nil)

	// the throttled cursor is re-fetched unchanged after the delay
	gt.Value(t, p.fetchCount()).Equal(2)
	gt.Value(t, string(p.fetchedCursor(1))).Equal(string(p.fetchedCursor(0)))
	gt.Array(t, h.events(t)).Length(1)
	gt.Value(t, got.LastSuccessfulUpdateAt).NotNil()
}

func TestEngineTimeboxStopsRun(t *testing.T) {
	p := &fakePlugin{endless: true}
	h := newEngineHarness(t, p)

	past := time.Now().UTC().Add(-time.Minute)
	got := h.run(t, &past)

	gt.Value(t, p.fetchCount()).Equal(0)
	gt.Value(t, got.LastSuccessfulUpdateAt).Nil()
	gt.Value(t, got.LastTriggeredAt).Nil()
}

func TestEngineSkipsMalformedItems(t *testing.T) {
	p := &fakePlugin{
		pages:    []*model.Page{page("", "a", "broken", "c")},
		badItems: map[string]bool{"broken": true},
	}
	h := newEngineHarness(t, p)

	got := h.run(t, nil)

	gt.Array(t, h.events(t)).Length(2)
	gt.Value(t, got.LastSuccessfulUpdateAt).NotNil()
}

func TestEngineInvalidDraftFailsRun(t *testing.T) {
	p := &fakePlugin{
		pages:        []*model.Page{page("", "a", "invalid")},
		invalidItems: map[string]bool{"invalid": true},
	}
	h := newEngineHarness(t, p)

	got := h.run(t, nil)

	gt.Value(t, got.LastSuccessfulUpdateAt).Nil()
	gt.Value(t, got.LastTriggeredAt).Nil()
}

func TestEnginePausedIntegrationAbandonsRun(t *testing.T) {
	p := &fakePlugin{pages: []*model.Page{page("", "a")}}
	h := newEngineHarness(t, p)

	gt.NoError(t, h.repo.Integration().UpdateConfig(context.Background(), h.integration.ID, model.SyncConfig{
		Paused: true,
	})).Required()

	got := h.run(t, nil)

	gt.Value(t, p.fetchCount()).Equal(0)
	gt.Value(t, got.LastSuccessfulUpdateAt).Nil()
	gt.Value(t, got.LastTriggeredAt).Nil()
}

func TestEngineTriggerRespectsInflightClaim(t *testing.T) {
	p := &fakePlugin{pages: []*model.Page{page("", "a")}}
	h := newEngineHarness(t, p)
	ctx := context.Background()

	// another run holds the claim
	gt.NoError(t, h.repo.Integration().ClaimTrigger(ctx, h.integration.ID,
		time.Now().UTC(), syncsvc.InflightWindow)).Required()

	gt.NoError(t, h.engine.Trigger(ctx, h.integration.ID, nil)).Required()
	h.queue.Wait()

	gt.Value(t, p.fetchCount()).Equal(0)
}

func TestEngineTriggerUnknownIntegration(t *testing.T) {
	p := &fakePlugin{}
	h := newEngineHarness(t, p)

	err := h.engine.Trigger(context.Background(), types.NewIntegrationID(), nil)
	gt.Error(t, err)
}

func TestStepPayloadRejectsMissingIntegration(t *testing.T) {
	_, err := syncsvc.UnmarshalStepPayload([]byte(`{"page":3}`))
	gt.Error(t, err)

	_, err = syncsvc.UnmarshalStepPayload([]byte(`not json`))
	gt.Error(t, err)
}
