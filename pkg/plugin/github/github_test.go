package github_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/plugin/github"
)

// scriptedClient replays canned responses in order and records the calls
type scriptedClient struct {
	mu        sync.Mutex
	responses []*model.ProviderResponse
	calls     []scriptedCall
}

type scriptedCall struct {
	method string
	path   string
	query  url.Values
}

func (c *scriptedClient) Do(ctx context.Context, method, path string, query url.Values, body any) (*model.ProviderResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, scriptedCall{method: method, path: path, query: query})
	resp := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return resp, nil
}

func jsonResponse(status int, body string) *model.ProviderResponse {
	return &model.ProviderResponse{Status: status, Body: []byte(body)}
}

func testIntegration(repos ...any) *model.Integration {
	integration := &model.Integration{
		ID:           "int-github",
		UserID:       "test-user",
		Service:      types.ServiceGitHub,
		InstanceType: github.InstanceCommits,
		Config:       model.SyncConfig{DaysBack: 7},
	}
	if repos != nil {
		integration.Config.Extra = map[string]any{"repositories": repos}
	}
	return integration
}

func commitJSON(sha string) string {
	return fmt.Sprintf(`{
		"sha":%q,
		"commit":{"message":"fix the thing","author":{"name":"Dev Eloper","date":"2025-01-20T09:15:00Z"}},
		"author":{"login":"dev-eloper"},
		"html_url":"https://github.com/cron/site/commit/%s"
	}`, sha, sha)
}

func TestInitialCursor(t *testing.T) {
	p := github.New()
	now := time.Date(2025, 1, 27, 12, 0, 0, 0, time.UTC)

	t.Run("starts at the first repository's first page", func(t *testing.T) {
		raw, err := p.InitialCursor(testIntegration("cron/site", "cron/api"), now)
		gt.NoError(t, err).Required()

		var pos model.RepoPageCursor
		gt.NoError(t, json.Unmarshal(raw, &pos)).Required()
		gt.Value(t, pos.RepoIndex).Equal(0)
		gt.Value(t, pos.Page).Equal(1)
	})

	t.Run("rejects a config without repositories", func(t *testing.T) {
		_, err := p.InitialCursor(testIntegration(), now)
		gt.Error(t, err)
	})

	t.Run("rejects an empty repository list", func(t *testing.T) {
		integration := testIntegration()
		integration.Config.Extra = map[string]any{"repositories": []any{}}
		_, err := p.InitialCursor(integration, now)
		gt.Error(t, err)
	})

	t.Run("rejects slugs that are not owner/repo", func(t *testing.T) {
		_, err := p.InitialCursor(testIntegration("just-a-name"), now)
		gt.Error(t, err)

		_, err = p.InitialCursor(testIntegration("a/b/c"), now)
		gt.Error(t, err)
	})

	t.Run("rejects non-string repository entries", func(t *testing.T) {
		_, err := p.InitialCursor(testIntegration("cron/site", 42), now)
		gt.Error(t, err)
	})
}

func TestFetchPage(t *testing.T) {
	p := github.New()
	integration := testIntegration("cron/site", "cron/api")

	t.Run("requests the cursor's repository and page", func(t *testing.T) {
		client := &scriptedClient{responses: []*model.ProviderResponse{
			jsonResponse(200, `[`+commitJSON("sha-1")+`,`+commitJSON("sha-2")+`]`),
		}}

		cursor, err := model.MarshalCursor(&model.RepoPageCursor{RepoIndex: 1, Page: 3})
		gt.NoError(t, err).Required()

		page, err := p.FetchPage(context.Background(), client, integration, cursor)
		gt.NoError(t, err).Required()

		call := client.calls[0]
		gt.Value(t, call.path).Equal("/repos/cron/api/commits")
		gt.Value(t, call.query.Get("per_page")).Equal("50")
		gt.Value(t, call.query.Get("page")).Equal("3")
		gt.S(t, call.query.Get("since")).Contains("T")

		gt.Array(t, page.Items).Length(2)

		var next model.RepoPageCursor
		gt.NoError(t, json.Unmarshal(page.Next, &next)).Required()
		gt.Value(t, next.RepoIndex).Equal(1)
		gt.Value(t, next.Page).Equal(4)
	})

	t.Run("wraps each commit with its repository", func(t *testing.T) {
		client := &scriptedClient{responses: []*model.ProviderResponse{
			jsonResponse(200, `[`+commitJSON("sha-1")+`]`),
		}}

		cursor, err := model.MarshalCursor(&model.RepoPageCursor{RepoIndex: 0, Page: 1})
		gt.NoError(t, err).Required()

		page, err := p.FetchPage(context.Background(), client, integration, cursor)
		gt.NoError(t, err).Required()
		gt.Array(t, page.Items).Length(1)

		var wrapped struct {
			Repository string          `json:"repository"`
			Commit     json.RawMessage `json:"commit"`
		}
		gt.NoError(t, json.Unmarshal(page.Items[0], &wrapped)).Required()
		gt.Value(t, wrapped.Repository).Equal("cron/site")
		gt.S(t, string(wrapped.Commit)).Contains("sha-1")
	})

	t.Run("empty page hands over to the next repository", func(t *testing.T) {
		client := &scriptedClient{responses: []*model.ProviderResponse{
			jsonResponse(200, `[]`),
		}}

		cursor, err := model.MarshalCursor(&model.RepoPageCursor{RepoIndex: 0, Page: 4})
		gt.NoError(t, err).Required()

		page, err := p.FetchPage(context.Background(), client, integration, cursor)
		gt.NoError(t, err).Required()

		gt.Array(t, page.Items).Length(0)
		gt.Value(t, page.Next).NotNil()

		var next model.RepoPageCursor
		gt.NoError(t, json.Unmarshal(page.Next, &next)).Required()
		gt.Value(t, next.RepoIndex).Equal(1)
		gt.Value(t, next.Page).Equal(1)
	})

	t.Run("empty page on the last repository ends the run", func(t *testing.T) {
		client := &scriptedClient{responses: []*model.ProviderResponse{
			jsonResponse(200, `[]`),
		}}

		cursor, err := model.MarshalCursor(&model.RepoPageCursor{RepoIndex: 1, Page: 2})
		gt.NoError(t, err).Required()

		page, err := p.FetchPage(context.Background(), client, integration, cursor)
		gt.NoError(t, err).Required()
		gt.Array(t, page.Items).Length(0)
		gt.Value(t, page.Next).Nil()
	})

	t.Run("cursor past the repository list ends the run", func(t *testing.T) {
		client := &scriptedClient{responses: []*model.ProviderResponse{
			jsonResponse(200, `[]`),
		}}

		cursor, err := model.MarshalCursor(&model.RepoPageCursor{RepoIndex: 5, Page: 1})
		gt.NoError(t, err).Required()

		page, err := p.FetchPage(context.Background(), client, integration, cursor)
		gt.NoError(t, err).Required()
		gt.Array(t, page.Items).Length(0)
		gt.Value(t, page.Next).Nil()
		gt.Array(t, client.calls).Length(0)
	})

	t.Run("provider errors are surfaced", func(t *testing.T) {
		client := &scriptedClient{responses: []*model.ProviderResponse{
			jsonResponse(404, `{"message":"Not Found"}`),
		}}

		cursor, err := model.MarshalCursor(&model.RepoPageCursor{RepoIndex: 0, Page: 1})
		gt.NoError(t, err).Required()

		_, err = p.FetchPage(context.Background(), client, integration, cursor)
		gt.Error(t, err)
	})
}

func TestNormalize(t *testing.T) {
	p := github.New()
	integration := testIntegration("cron/site")

	wrap := func(repo, commit string) json.RawMessage {
		return json.RawMessage(fmt.Sprintf(`{"repository":%q,"commit":%s}`, repo, commit))
	}

	t.Run("commit becomes a committed event", func(t *testing.T) {
		drafts, err := p.Normalize(context.Background(), integration, wrap("cron/site", commitJSON("sha-1")))
		gt.NoError(t, err).Required()
		gt.Array(t, drafts).Length(1)

		draft := drafts[0]
		gt.Value(t, draft.SourceID).Equal("github_commit_int-github_sha-1")
		gt.Value(t, draft.Service).Equal(types.ServiceGitHub)
		gt.Value(t, draft.Domain).Equal("development")
		gt.Value(t, draft.Action).Equal("committed")
		gt.Value(t, draft.Time).Equal(time.Date(2025, 1, 20, 9, 15, 0, 0, time.UTC))

		gt.Value(t, draft.Actor.ObjectType).Equal("github_user")
		gt.Value(t, draft.Actor.Title).Equal("dev-eloper")
		gt.Value(t, draft.Target).NotNil()
		gt.Value(t, draft.Target.ObjectType).Equal("github_repo")
		gt.Value(t, draft.Target.Title).Equal("cron/site")

		gt.Value(t, draft.Metadata["sha"]).Equal("sha-1")
		gt.Value(t, draft.Metadata["message"]).Equal("fix the thing")
		gt.Value(t, draft.Metadata["url"]).Equal("https://github.com/cron/site/commit/sha-1")
	})

	t.Run("falls back to the git author name without a github account", func(t *testing.T) {
		commit := `{"sha":"sha-2","commit":{"message":"initial import","author":{"name":"Dev Eloper","date":"2025-01-19T18:00:00Z"}},"html_url":"https://example.com"}`

		drafts, err := p.Normalize(context.Background(), integration, wrap("cron/site", commit))
		gt.NoError(t, err).Required()
		gt.Value(t, drafts[0].Actor.Title).Equal("Dev Eloper")
	})

	t.Run("keeps only the first line of the message", func(t *testing.T) {
		commit := `{"sha":"sha-3","commit":{"message":"short subject\n\nlong body\nmore body","author":{"name":"Dev","date":"2025-01-19T18:00:00Z"}}}`

		drafts, err := p.Normalize(context.Background(), integration, wrap("cron/site", commit))
		gt.NoError(t, err).Required()
		gt.Value(t, drafts[0].Metadata["message"]).Equal("short subject")
	})

	t.Run("rejects a commit without a sha", func(t *testing.T) {
		commit := `{"commit":{"message":"x","author":{"name":"Dev","date":"2025-01-19T18:00:00Z"}}}`
		_, err := p.Normalize(context.Background(), integration, wrap("cron/site", commit))
		gt.Error(t, err)
	})

	t.Run("rejects a malformed author date", func(t *testing.T) {
		commit := `{"sha":"sha-4","commit":{"message":"x","author":{"name":"Dev","date":"last tuesday"}}}`
		_, err := p.Normalize(context.Background(), integration, wrap("cron/site", commit))
		gt.Error(t, err)
	})
}
