// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"go.astrophena.name/feedsum/internal/digest"
)

// Outcome is how a run ended.
type Outcome string

// Outcomes.
const (
	Completed              Outcome = "completed"
	CompletedNoNewArticles Outcome = "completed_no_new_articles"
)

// FeedResult describes what happened to one feed during a run.
type FeedResult struct {
	Feed string `json:"feed"`
	// Error is set when the feed couldn't be fetched.
	Error      string `json:"error,omitempty"`
	Fetched    int    `json:"fetched"`
	New        int    `json:"new"`
	Summarized int    `json:"summarized"`
	Failed     int    `json:"failed,omitempty"`
	Skipped    int    `json:"skipped,omitempty"`
}

// Report describes a run.
type Report struct {
	Outcome    Outcome
	StartedAt  time.Time
	FinishedAt time.Time
	Feeds      []FeedResult
	Batch      []digest.Summary
	Archived   int
	Dispatched bool
	// DispatchError is the error the dispatcher returned, if any.
	DispatchError error
	// CacheErrors are cache persistence failures. The in-memory cache kept
	// the affected changes.
	CacheErrors []error
}

// Err returns a non-nil error if the run only partially succeeded.
func (r *Report) Err() error {
	if r.DispatchError != nil {
		return fmt.Errorf("digest delivery failed: %w", r.DispatchError)
	}
	return nil
}

// FailedFeeds returns the number of feeds that couldn't be fetched.
func (r *Report) FailedFeeds() int {
	var n int
	for _, f := range r.Feeds {
		if f.Error != "" {
			n++
		}
	}
	return n
}

// MarshalJSON implements [json.Marshaler].
func (r *Report) MarshalJSON() ([]byte, error) {
	out := struct {
		Outcome       Outcome          `json:"outcome"`
		StartedAt     time.Time        `json:"started_at"`
		FinishedAt    time.Time        `json:"finished_at"`
		Feeds         []FeedResult     `json:"feeds"`
		Batch         []digest.Summary `json:"batch"`
		Archived      int              `json:"archived"`
		Dispatched    bool             `json:"dispatched"`
		DispatchError string           `json:"dispatch_error,omitempty"`
		CacheErrors   []string         `json:"cache_errors,omitempty"`
	}{
		Outcome:    r.Outcome,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Feeds:      r.Feeds,
		Batch:      r.Batch,
		Archived:   r.Archived,
		Dispatched: r.Dispatched,
	}
	if out.Batch == nil {
		out.Batch = []digest.Summary{}
	}
	if r.DispatchError != nil {
		out.DispatchError = r.DispatchError.Error()
	}
	for _, err := range r.CacheErrors {
		out.CacheErrors = append(out.CacheErrors, err.Error())
	}
	return json.Marshal(out)
}
