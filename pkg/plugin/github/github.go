// Package github syncs commits authored across a configured set of
// repositories, using a personal access token. Pagination walks each
// repository page by page and advances to the next repository when a page
// comes back empty.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/plugin"
)

const (
	baseURL  = "https://api.github.com"
	pageSize = 50

	InstanceCommits types.InstanceType = "commits"

	// extraRepositories lists "owner/repo" slugs to sync
	extraRepositories = "repositories"
)

type Plugin struct{}

var _ interfaces.Plugin = &Plugin{}

func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Service() types.Service {
	return types.ServiceGitHub
}

func (p *Plugin) Instances() []model.InstanceSpec {
	return []model.InstanceSpec{
		{
			Type: string(InstanceCommits),
			DefaultConfig: model.SyncConfig{
				UpdateFrequencyMinutes: 120,
				DaysBack:               7,
			},
		},
	}
}

func (p *Plugin) BaseURL() string {
	return baseURL
}

func (p *Plugin) AuthScheme() types.AuthScheme {
	return types.AuthSchemeBearer
}

// repositories reads the configured "owner/repo" slugs. Extra comes back
// from JSON as []any, so both shapes are accepted.
func repositories(config model.SyncConfig) ([]string, error) {
	raw, ok := config.Extra[extraRepositories]
	if !ok {
		return nil, goerr.New("github instance has no repositories configured")
	}

	var repos []string
	switch typed := raw.(type) {
	case []string:
		repos = typed
	case []any:
		for _, v := range typed {
			s, ok := v.(string)
			if !ok {
				return nil, goerr.New("repository entry is not a string", goerr.V("entry", v))
			}
			repos = append(repos, s)
		}
	default:
		return nil, goerr.New("repositories config has unexpected type")
	}

	for _, repo := range repos {
		if strings.Count(repo, "/") != 1 {
			return nil, goerr.New("repository must be owner/repo", goerr.V("repository", repo))
		}
	}
	if len(repos) == 0 {
		return nil, goerr.New("github instance has no repositories configured")
	}
	return repos, nil
}

func (p *Plugin) InitialCursor(integration *model.Integration, now time.Time) (json.RawMessage, error) {
	if _, err := repositories(integration.Config); err != nil {
		return nil, err
	}
	return model.MarshalCursor(&model.RepoPageCursor{RepoIndex: 0, Page: 1})
}

// commitItem wraps one raw commit with the repository it came from, since
// the list response itself does not carry the slug
type commitItem struct {
	Repository string          `json:"repository"`
	Commit     json.RawMessage `json:"commit"`
}

func (p *Plugin) FetchPage(ctx context.Context, client interfaces.ProviderClient, integration *model.Integration, cursor json.RawMessage) (*model.Page, error) {
	var pos model.RepoPageCursor
	if err := json.Unmarshal(cursor, &pos); err != nil {
		return nil, goerr.Wrap(err, "failed to decode repo page cursor")
	}

	repos, err := repositories(integration.Config)
	if err != nil {
		return nil, err
	}
	if pos.RepoIndex >= len(repos) {
		return &model.Page{}, nil
	}
	repo := repos[pos.RepoIndex]

	query := url.Values{
		"per_page": []string{strconv.Itoa(pageSize)},
		"page":     []string{strconv.Itoa(pos.Page)},
	}
	if integration.Config.DaysBack > 0 {
		since := time.Now().UTC().AddDate(0, 0, -integration.Config.DaysBack)
		query.Set("since", since.Format(time.RFC3339))
	}

	endpoint := "/repos/" + repo + "/commits"
	resp, err := client.Do(ctx, "GET", endpoint, query, nil)
	if err != nil {
		return nil, err
	}
	if err := plugin.CheckResponse(resp, endpoint); err != nil {
		return nil, err
	}

	var commits []json.RawMessage
	if err := resp.Decode(&commits); err != nil {
		return nil, goerr.Wrap(types.ErrProviderData, "failed to decode commit list", goerr.V("repository", repo))
	}

	// an exhausted repository hands over to the next one in the same run
	if len(commits) == 0 {
		next, err := model.MarshalCursor(cursorOrNil(pos.NextRepo(len(repos))))
		if err != nil {
			return nil, err
		}
		return &model.Page{Next: next}, nil
	}

	items := make([]json.RawMessage, 0, len(commits))
	for _, commit := range commits {
		item, err := json.Marshal(&commitItem{Repository: repo, Commit: commit})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to wrap commit item")
		}
		items = append(items, item)
	}

	next, err := model.MarshalCursor(pos.NextPage())
	if err != nil {
		return nil, err
	}
	return &model.Page{Items: items, Next: next}, nil
}

func cursorOrNil(c *model.RepoPageCursor) any {
	if c == nil {
		return nil
	}
	return c
}

type commit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string `json:"name"`
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Author *struct {
		Login string `json:"login"`
	} `json:"author"`
	HTMLURL string `json:"html_url"`
}

func (p *Plugin) Normalize(ctx context.Context, integration *model.Integration, item json.RawMessage) ([]*model.EventDraft, error) {
	var wrapped commitItem
	if err := json.Unmarshal(item, &wrapped); err != nil {
		return nil, goerr.Wrap(err, "failed to decode commit item")
	}

	var c commit
	if err := json.Unmarshal(wrapped.Commit, &c); err != nil {
		return nil, goerr.Wrap(err, "failed to decode commit")
	}
	if c.SHA == "" {
		return nil, goerr.New("commit missing sha")
	}

	committedAt, err := time.Parse(time.RFC3339, c.Commit.Author.Date)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid commit author date", goerr.V("sha", c.SHA))
	}

	authorTitle := c.Commit.Author.Name
	if c.Author != nil && c.Author.Login != "" {
		authorTitle = c.Author.Login
	}

	subject := c.Commit.Message
	if idx := strings.IndexByte(subject, '\n'); idx >= 0 {
		subject = subject[:idx]
	}

	return []*model.EventDraft{{
		SourceID: fmt.Sprintf("github_commit_%s_%s", integration.ID, c.SHA),
		Service:  types.ServiceGitHub,
		Domain:   "development",
		Action:   "committed",
		Time:     committedAt,
		Actor: model.ObjectDraft{
			Concept:    "person",
			ObjectType: "github_user",
			Title:      authorTitle,
		},
		Target: &model.ObjectDraft{
			Concept:    "repository",
			ObjectType: "github_repo",
			Title:      wrapped.Repository,
		},
		Metadata: map[string]any{
			"sha":     c.SHA,
			"message": subject,
			"url":     c.HTMLURL,
		},
	}}, nil
}
