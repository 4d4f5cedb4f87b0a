package context

import (
	"encoding/json"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/claude-mem/worker/pkg/models"
)

type timelineKind int

const (
	kindObservation timelineKind = iota
	kindSummary
)

type timelineItem struct {
	kind           timelineKind
	createdAtEpoch int64
	folder         string
	observation    *models.Observation
	summary        *models.SessionSummary
}

type folderGroup struct {
	folder string
	items  []timelineItem
}

type dayGroup struct {
	day     string // YYYY-MM-DD
	folders []*folderGroup
}

func buildTimeline(observations []*models.Observation, summaries []*models.SessionSummary) []timelineItem {
	out := make([]timelineItem, 0, len(observations)+len(summaries))
	for _, o := range observations {
		out = append(out, timelineItem{
			kind:           kindObservation,
			createdAtEpoch: o.CreatedAtEpoch,
			folder:         deriveFolder(o.FilesModified, o.FilesRead),
			observation:    o,
		})
	}
	for _, s := range summaries {
		out = append(out, timelineItem{
			kind:           kindSummary,
			createdAtEpoch: s.CreatedAtEpoch,
			folder:         deriveFolder(s.FilesEdited, s.FilesRead),
			summary:        s,
		})
	}
	return out
}

// deriveFolder picks a grouping label from the first modified (preferred)
// or read file's top-level directory; "general" when neither is available.
func deriveFolder(modified, read []string) string {
	for _, f := range append(append([]string{}, modified...), read...) {
		dir := path.Dir(f)
		if dir == "." || dir == "" {
			continue
		}
		parts := strings.SplitN(dir, "/", 2)
		return parts[0]
	}
	return "general"
}

func groupByDayThenFolder(timeline []timelineItem) []*dayGroup {
	var days []*dayGroup
	dayIndex := make(map[string]*dayGroup)
	folderIndex := make(map[string]*folderGroup)

	for _, item := range timeline {
		day := time.Unix(item.createdAtEpoch, 0).UTC().Format("2006-01-02")
		dg, ok := dayIndex[day]
		if !ok {
			dg = &dayGroup{day: day}
			dayIndex[day] = dg
			days = append(days, dg)
		}

		key := day + "\x00" + item.folder
		fg, ok := folderIndex[key]
		if !ok {
			fg = &folderGroup{folder: item.folder}
			folderIndex[key] = fg
			dg.folders = append(dg.folders, fg)
		}
		fg.items = append(fg.items, item)
	}
	return days
}

// splitByBudget walks groups in chronological order and assigns the first
// fullCount observations to full-detail rendering, the rest to compact.
// When the cutoff falls inside a day/folder group whose boundary items
// share a created_at_epoch, the one with the higher-weighted first concept
// wins the remaining full-detail slot.
func splitByBudget(groups []*dayGroup, fullCount int, weights map[string]float64) (fullIDs, compactIDs map[int64]bool) {
	fullIDs = make(map[int64]bool)
	compactIDs = make(map[int64]bool)

	var ordered []*models.Observation
	for _, dg := range groups {
		for _, fg := range dg.folders {
			bucket := make([]*models.Observation, 0, len(fg.items))
			for _, item := range fg.items {
				if item.kind == kindObservation {
					bucket = append(bucket, item.observation)
				}
			}
			sortByWeightTieBreak(bucket, weights)
			ordered = append(ordered, bucket...)
		}
	}

	for i, o := range ordered {
		if i < fullCount {
			fullIDs[o.ID] = true
		} else {
			compactIDs[o.ID] = true
		}
	}
	return fullIDs, compactIDs
}

// sortByWeightTieBreak stable-sorts same-epoch runs so the observation
// whose first concept carries the higher seeded weight comes first,
// without disturbing the otherwise chronological order.
func sortByWeightTieBreak(bucket []*models.Observation, weights map[string]float64) {
	for i := 1; i < len(bucket); i++ {
		j := i
		for j > 0 && bucket[j-1].CreatedAtEpoch == bucket[j].CreatedAtEpoch &&
			firstConceptWeight(bucket[j-1], weights) < firstConceptWeight(bucket[j], weights) {
			bucket[j-1], bucket[j] = bucket[j], bucket[j-1]
			j--
		}
	}
}

func firstConceptWeight(o *models.Observation, weights map[string]float64) float64 {
	if len(o.Concepts) == 0 {
		return 0
	}
	return weights[o.Concepts[0]]
}

// readTokens estimates the token cost of reading one observation's
// full-detail rendering: ~4 characters per token.
func readTokens(o *models.Observation) int {
	factsJSON := ""
	if len(o.Facts) > 0 {
		b, _ := json.Marshal(o.Facts)
		factsJSON = string(b)
	}
	n := len(o.Title) + len(o.Subtitle) + len(o.Narrative) + len(factsJSON)
	return int(math.Ceil(float64(n) / 4))
}

type renderInput struct {
	Groups       []*dayGroup
	FullIDs      map[int64]bool
	CompactIDs   map[int64]bool
	Opts         Options
	Previous     string
	Observations []*models.Observation
}

func render(in renderInput) string {
	var b strings.Builder

	writeHeader(&b, in.Opts.Projects)

	if in.Opts.ShowLegend {
		writeLegend(&b, in.Opts)
	}

	if in.Previous != "" {
		b.WriteString("## Previously\n\n")
		b.WriteString(in.Previous)
		b.WriteString("\n\n")
	}

	for _, dg := range in.Groups {
		fmt.Fprintf(&b, "## %s\n\n", dg.day)
		for _, fg := range dg.folders {
			fmt.Fprintf(&b, "### %s\n\n", fg.folder)
			for _, item := range fg.items {
				switch item.kind {
				case kindObservation:
					writeObservation(&b, item.observation, in.FullIDs[item.observation.ID])
				case kindSummary:
					writeSummary(&b, item.summary)
				}
			}
			b.WriteString("\n")
		}
	}

	if in.Opts.ShowEconomics {
		writeEconomics(&b, in.Observations)
	}

	return b.String()
}

// writeHeader writes the document's required leading header line naming the
// project(s) it covers and the time it was composed.
func writeHeader(b *strings.Builder, projects []string) {
	label := "all projects"
	if len(projects) > 0 {
		label = strings.Join(projects, ", ")
	}
	fmt.Fprintf(b, "# [%s] recent context, %s\n\n", label, time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))
}

func writeLegend(b *strings.Builder, opts Options) {
	b.WriteString("<!-- claude-mem context: ")
	b.WriteString(strconv.Itoa(opts.TotalObservations))
	b.WriteString(" observations, ")
	b.WriteString(strconv.Itoa(opts.SessionCount))
	b.WriteString(" sessions. Compact rows: id | time | type | title | read-tokens | work-tokens -->\n\n")
}

func writeObservation(b *strings.Builder, o *models.Observation, full bool) {
	t := time.Unix(o.CreatedAtEpoch, 0).UTC().Format("15:04")
	if !full {
		fmt.Fprintf(b, "- `%d` %s **%s** %s — %d/%d tok\n", o.ID, t, o.Type, o.Title, readTokens(o), o.DiscoveryTokens)
		return
	}
	fmt.Fprintf(b, "#### [%s] %s (%s)\n\n", o.Type, o.Title, t)
	if o.Subtitle != "" {
		fmt.Fprintf(b, "_%s_\n\n", o.Subtitle)
	}
	if o.Narrative != "" {
		fmt.Fprintf(b, "%s\n\n", o.Narrative)
	}
	for _, f := range o.Facts {
		fmt.Fprintf(b, "- %s\n", f)
	}
	if len(o.Concepts) > 0 {
		fmt.Fprintf(b, "\nConcepts: %s\n", strings.Join(o.Concepts, ", "))
	}
	b.WriteString("\n")
}

func writeSummary(b *strings.Builder, s *models.SessionSummary) {
	t := time.Unix(s.CreatedAtEpoch, 0).UTC().Format("15:04")
	fmt.Fprintf(b, "#### Session summary (%s)\n\n", t)
	if s.Request != "" {
		fmt.Fprintf(b, "**Request:** %s\n\n", s.Request)
	}
	if s.Learned != "" {
		fmt.Fprintf(b, "**Learned:** %s\n\n", s.Learned)
	}
	if s.Completed != "" {
		fmt.Fprintf(b, "**Completed:** %s\n\n", s.Completed)
	}
	if s.NextSteps != "" {
		fmt.Fprintf(b, "**Next steps:** %s\n\n", s.NextSteps)
	}
}

func writeEconomics(b *strings.Builder, observations []*models.Observation) {
	var totalDiscovery, totalRead int
	for _, o := range observations {
		totalDiscovery += o.DiscoveryTokens
		totalRead += readTokens(o)
	}
	if totalDiscovery == 0 {
		return
	}
	savings := totalDiscovery - totalRead
	savingsPercent := float64(savings) / float64(totalDiscovery) * 100
	fmt.Fprintf(b, "---\n\n_savings: %d tokens (%.1f%%), %d discovery tokens → %d read tokens_\n",
		savings, savingsPercent, totalDiscovery, totalRead)
}

func renderEmpty(projects []string) string {
	var b strings.Builder
	writeHeader(&b, projects)
	if len(projects) == 0 {
		b.WriteString("_No context yet._\n")
	} else {
		fmt.Fprintf(&b, "_No context yet for %s._\n", strings.Join(projects, ", "))
	}
	return b.String()
}
