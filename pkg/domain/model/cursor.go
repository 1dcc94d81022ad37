package model

import (
	"encoding/json"
	"time"
)

// Cursors are owned by plugins and opaque to the sync engine: the engine only
// cares whether a next cursor exists. The shapes below cover the pagination
// schemes providers actually use and are shared so plugins don't reinvent the
// JSON layout.

// DateWindowCursor paginates daily-metric resources by shifting a fixed-size
// date window forward until it reaches now.
type DateWindowCursor struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Advance returns the next window of the same size, or nil once the current
// window has reached the reference time
func (c *DateWindowCursor) Advance(now time.Time) *DateWindowCursor {
	if !c.End.Before(now) {
		return nil
	}
	size := c.End.Sub(c.Start)
	next := &DateWindowCursor{Start: c.End, End: c.End.Add(size)}
	if next.End.After(now) {
		next.End = now
	}
	return next
}

// NewDateWindowCursor builds the first window covering daysBack of history
func NewDateWindowCursor(now time.Time, daysBack, windowDays int) *DateWindowCursor {
	if windowDays < 1 {
		windowDays = 29
	}
	start := now.AddDate(0, 0, -daysBack)
	end := start.AddDate(0, 0, windowDays)
	if end.After(now) {
		end = now
	}
	return &DateWindowCursor{Start: start, End: end}
}

// PathCursor follows an opaque next-path token returned by the provider
type PathCursor struct {
	NextPath string `json:"next_path"`
}

// RepoPageCursor iterates a list of repositories, paging each until an empty
// page, then advancing to the next repository
type RepoPageCursor struct {
	RepoIndex int `json:"repo_index"`
	Page      int `json:"page"`
}

// NextPage returns the cursor for the following page of the same repository
func (c *RepoPageCursor) NextPage() *RepoPageCursor {
	return &RepoPageCursor{RepoIndex: c.RepoIndex, Page: c.Page + 1}
}

// NextRepo returns the cursor for the first page of the next repository, or
// nil when no repositories remain
func (c *RepoPageCursor) NextRepo(repoCount int) *RepoPageCursor {
	if c.RepoIndex+1 >= repoCount {
		return nil
	}
	return &RepoPageCursor{RepoIndex: c.RepoIndex + 1, Page: 1}
}

// SinceCursor paginates forward from an opaque item ID
type SinceCursor struct {
	Since string `json:"since"`
}

// MarshalCursor serializes any cursor shape for embedding in a task payload
func MarshalCursor(cursor any) (json.RawMessage, error) {
	if cursor == nil {
		return nil, nil
	}
	return json.Marshal(cursor)
}
