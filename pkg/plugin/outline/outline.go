// Package outline syncs documents from an Outline wiki. Each document update
// produces a versioned document event, plus a stable per-document checklist
// event whose blocks are the markdown tasks extracted from the document body.
// The checklist event reconciles on every pass so completed, added and
// removed tasks track the living document.
package outline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/plugin"
)

const (
	listPath = "/api/documents.list"
	pageSize = 25

	InstanceDocuments types.InstanceType = "documents"
)

type Plugin struct {
	baseURL string
}

var _ interfaces.Plugin = &Plugin{}

func New(baseURL string) *Plugin {
	if baseURL == "" {
		baseURL = "https://app.getoutline.com"
	}
	return &Plugin{baseURL: baseURL}
}

func (p *Plugin) Service() types.Service {
	return types.ServiceOutline
}

func (p *Plugin) Instances() []model.InstanceSpec {
	return []model.InstanceSpec{
		{
			Type: string(InstanceDocuments),
			DefaultConfig: model.SyncConfig{
				UpdateFrequencyMinutes: 60,
			},
		},
	}
}

func (p *Plugin) BaseURL() string {
	return p.baseURL
}

func (p *Plugin) AuthScheme() types.AuthScheme {
	return types.AuthSchemeBearer
}

func (p *Plugin) InitialCursor(integration *model.Integration, now time.Time) (json.RawMessage, error) {
	// first page posts to the list endpoint directly; subsequent pages
	// follow the nextPath the API returns
	return model.MarshalCursor(&model.PathCursor{NextPath: listPath})
}

type listResponse struct {
	Data       []json.RawMessage `json:"data"`
	Pagination struct {
		NextPath string `json:"nextPath"`
	} `json:"pagination"`
}

func (p *Plugin) FetchPage(ctx context.Context, client interfaces.ProviderClient, integration *model.Integration, cursor json.RawMessage) (*model.Page, error) {
	var path model.PathCursor
	if err := json.Unmarshal(cursor, &path); err != nil {
		return nil, goerr.Wrap(err, "failed to decode path cursor")
	}
	if path.NextPath == "" {
		path.NextPath = listPath
	}

	body := map[string]any{
		"limit":     pageSize,
		"sort":      "updatedAt",
		"direction": "DESC",
	}

	resp, err := client.Do(ctx, "POST", path.NextPath, nil, body)
	if err != nil {
		return nil, err
	}
	if err := plugin.CheckResponse(resp, path.NextPath); err != nil {
		return nil, err
	}

	var list listResponse
	if err := resp.Decode(&list); err != nil {
		return nil, goerr.Wrap(types.ErrProviderData, "failed to decode outline document list")
	}

	// Outline reports a nextPath even past the last page; an empty page is
	// the real terminator
	if len(list.Data) == 0 || list.Pagination.NextPath == "" {
		return &model.Page{Items: list.Data}, nil
	}

	next, err := model.MarshalCursor(&model.PathCursor{NextPath: list.Pagination.NextPath})
	if err != nil {
		return nil, err
	}
	return &model.Page{Items: list.Data, Next: next}, nil
}

type document struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	URL       string `json:"url"`
	UpdatedAt string `json:"updatedAt"`
}

func (p *Plugin) Normalize(ctx context.Context, integration *model.Integration, item json.RawMessage) ([]*model.EventDraft, error) {
	var doc document
	if err := json.Unmarshal(item, &doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode outline document")
	}
	if doc.ID == "" {
		return nil, goerr.New("outline document missing id")
	}

	updatedAt, err := time.Parse(time.RFC3339, doc.UpdatedAt)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid document updatedAt", goerr.V("document_id", doc.ID))
	}

	actor := model.ObjectDraft{
		Concept:    "account",
		ObjectType: "outline_account",
		Title:      "Outline",
	}
	target := &model.ObjectDraft{
		Concept:    "document",
		ObjectType: "outline_document",
		Title:      doc.Title,
		Metadata:   map[string]any{"url": doc.URL},
		Time:       updatedAt,
	}

	drafts := []*model.EventDraft{{
		// updatedAt in the key makes each document revision its own event
		SourceID: fmt.Sprintf("outline_document_%s_%s_%s", integration.ID, doc.ID, doc.UpdatedAt),
		Service:  types.ServiceOutline,
		Domain:   "knowledge",
		Action:   "updated_document",
		Time:     updatedAt,
		Actor:    actor,
		Target:   target,
		Metadata: map[string]any{"document_id": doc.ID},
	}}

	tasks := ExtractTasks(doc.Text)
	if len(tasks) > 0 {
		blocks := make([]model.BlockDraft, 0, len(tasks))
		for _, task := range tasks {
			value, mult := model.EncodeFloat(boolValue(task.Done), 1)
			blocks = append(blocks, model.BlockDraft{
				BlockType:       "task",
				Title:           task.Title,
				Value:           value,
				ValueMultiplier: mult,
				ValueUnit:       "boolean",
				Time:            updatedAt,
			})
		}

		drafts = append(drafts, &model.EventDraft{
			// stable per-document key so re-processing reconciles the
			// checklist instead of duplicating it
			SourceID:        fmt.Sprintf("outline_tasks_%s_%s", integration.ID, doc.ID),
			Service:         types.ServiceOutline,
			Domain:          "knowledge",
			Action:          "tracked_tasks",
			Time:            updatedAt,
			Actor:           actor,
			Target:          target,
			Metadata:        map[string]any{"document_id": doc.ID},
			Blocks:          blocks,
			ReconcileBlocks: true,
		})
	}

	return drafts, nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
