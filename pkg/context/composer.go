// Package context composes the "recent context" Markdown document the
// worker HTTP surface serves to editor hooks at session start.
package context

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/claude-mem/worker/pkg/mode"
	"github.com/claude-mem/worker/pkg/models"
	"github.com/claude-mem/worker/pkg/store"
)

// Options controls one composition call. Every count is display-settings
// driven; the composer never hardcodes a budget.
type Options struct {
	Projects             []string
	TotalObservations    int
	SessionCount         int
	FullObservationCount int
	ShowLegend           bool
	ShowEconomics        bool
	ShowPrevious         bool
	Colors               bool
	TranscriptPath       string // editor-maintained JSONL transcript, for the "Previously" block
}

// Composer assembles recent observations and summaries into Markdown.
type Composer struct {
	Store *store.Store
	Mode  *mode.Mode
}

// New builds a Composer over st, filtering to m's allowed vocabulary.
func New(st *store.Store, m *mode.Mode) *Composer {
	return &Composer{Store: st, Mode: m}
}

// Compose produces the context document for opts.Projects. An empty
// project with nothing recorded yet returns a short "no context" block
// rather than an empty document.
func (c *Composer) Compose(ctx context.Context, opts Options) (string, error) {
	observations, err := c.Store.ListObservationsForComposition(ctx, opts.Projects, opts.TotalObservations)
	if err != nil {
		return "", fmt.Errorf("list observations: %w", err)
	}
	observations = filterByMode(observations, c.Mode)

	summaries, err := c.Store.ListSummariesForProjects(ctx, opts.Projects, opts.SessionCount+1)
	if err != nil {
		return "", fmt.Errorf("list summaries: %w", err)
	}

	if len(observations) == 0 && len(summaries) == 0 {
		return renderEmpty(opts.Projects), nil
	}

	weights, err := c.Store.ConceptWeights(ctx)
	if err != nil {
		return "", fmt.Errorf("load concept weights: %w", err)
	}

	timeline := buildTimeline(observations, summaries)
	sort.Slice(timeline, func(i, j int) bool { return timeline[i].createdAtEpoch < timeline[j].createdAtEpoch })

	groups := groupByDayThenFolder(timeline)
	fullIDs, compactIDs := splitByBudget(groups, opts.FullObservationCount, weights)

	var previous string
	if opts.ShowPrevious && opts.TranscriptPath != "" {
		previous, _ = lastAssistantMessage(opts.TranscriptPath)
	}

	doc := render(renderInput{
		Groups:       groups,
		FullIDs:      fullIDs,
		CompactIDs:   compactIDs,
		Opts:         opts,
		Previous:     previous,
		Observations: observations,
	})

	c.recordRetrievals(ctx, observations, fullIDs, compactIDs)
	return doc, nil
}

// recordRetrievals bumps retrieval bookkeeping for every observation that
// made it into the rendered document — best-effort, never blocks the
// response on failure.
func (c *Composer) recordRetrievals(ctx context.Context, observations []*models.Observation, fullIDs, compactIDs map[int64]bool) {
	var ids []int64
	for _, o := range observations {
		if fullIDs[o.ID] || compactIDs[o.ID] {
			ids = append(ids, o.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Store.RecordRetrieval(bgCtx, ids)
	}()
}

func filterByMode(observations []*models.Observation, m *mode.Mode) []*models.Observation {
	if m == nil {
		return observations
	}
	out := make([]*models.Observation, 0, len(observations))
	for _, o := range observations {
		if !typeAllowed(m, o.Type) {
			continue
		}
		if !conceptsAllowed(m, o.Concepts) {
			continue
		}
		out = append(out, o)
	}
	return out
}

func typeAllowed(m *mode.Mode, t string) bool {
	if len(m.ObservationTypes) == 0 {
		return true
	}
	for _, ot := range m.ObservationTypes {
		if ot.ID == t {
			return true
		}
	}
	return false
}

// conceptsAllowed reports whether o's concepts intersect the mode's allowed
// vocabulary. A mode with no configured concepts imposes no restriction;
// an observation with no concepts at all always passes, since concept
// tagging is optional per observation.
func conceptsAllowed(m *mode.Mode, concepts []string) bool {
	if len(m.ObservationConcepts) == 0 || len(concepts) == 0 {
		return true
	}
	return len(m.ResolveConcepts(concepts)) > 0
}
