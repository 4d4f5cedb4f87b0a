// Package response implements the response processor: parsing the
// provider's XML-like reply, storing what it contains, mirroring it into
// the vector store, and confirming the originating queue entry.
package response

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/claude-mem/worker/pkg/mode"
)

// ParsedObservation is one <observation> element, validated against the
// active mode's allowed vocabulary.
type ParsedObservation struct {
	Type          string
	Title         string
	Subtitle      string
	Narrative     string
	Facts         []string
	Concepts      []string
	FilesRead     []string
	FilesModified []string
}

// ParsedSummary is the optional <summary> element.
type ParsedSummary struct {
	Request      string
	Investigated string
	Learned      string
	Completed    string
	NextSteps    string
	FilesRead    []string
	FilesEdited  []string
	Notes        string
}

// ParsedReply is everything extracted from one provider reply.
type ParsedReply struct {
	Observations []ParsedObservation
	Summary      *ParsedSummary
	Skipped      bool
	SkipReason   string
}

type rawRoot struct {
	XMLName      xml.Name         `xml:"root"`
	Observations []rawObservation `xml:"observation"`
	Summary      *rawSummary      `xml:"summary"`
	Skip         *rawSkip         `xml:"skip"`
}

type rawObservation struct {
	Type          string   `xml:"type"`
	Title         string   `xml:"title"`
	Subtitle      string   `xml:"subtitle"`
	Narrative     string   `xml:"narrative"`
	Facts         []string `xml:"facts>fact"`
	Concepts      []string `xml:"concepts>concept"`
	FilesRead     []string `xml:"files_read>file"`
	FilesModified []string `xml:"files_modified>file"`
}

type rawSummary struct {
	Request      string   `xml:"request"`
	Investigated string   `xml:"investigated"`
	Learned      string   `xml:"learned"`
	Completed    string   `xml:"completed"`
	NextSteps    string   `xml:"next_steps"`
	FilesRead    []string `xml:"files_read>file"`
	FilesEdited  []string `xml:"files_edited>file"`
	Notes        string   `xml:"notes"`
}

type rawSkip struct {
	Reason string `xml:"reason,attr"`
}

// Parse extracts observations and an optional summary from raw assistant
// text, validating each observation's type and concepts against m.
// Unknown tags inside known elements are tolerated (encoding/xml ignores
// what it doesn't recognize); an unknown observation type maps to the
// mode's default rather than being rejected.
func Parse(text string, m *mode.Mode) (ParsedReply, error) {
	wrapped := "<root>" + text + "</root>"
	var raw rawRoot
	if err := xml.Unmarshal([]byte(wrapped), &raw); err != nil {
		return ParsedReply{}, fmt.Errorf("parse reply: %w", err)
	}

	if raw.Skip != nil {
		return ParsedReply{Skipped: true, SkipReason: raw.Skip.Reason}, nil
	}

	reply := ParsedReply{Observations: make([]ParsedObservation, 0, len(raw.Observations))}
	for _, o := range raw.Observations {
		reply.Observations = append(reply.Observations, ParsedObservation{
			Type:          m.ResolveObservationType(o.Type),
			Title:         strings.TrimSpace(o.Title),
			Subtitle:      strings.TrimSpace(o.Subtitle),
			Narrative:     strings.TrimSpace(o.Narrative),
			Facts:         trimAll(o.Facts),
			Concepts:      m.ResolveConcepts(o.Concepts),
			FilesRead:     trimAll(o.FilesRead),
			FilesModified: trimAll(o.FilesModified),
		})
	}

	if raw.Summary != nil {
		reply.Summary = &ParsedSummary{
			Request:      strings.TrimSpace(raw.Summary.Request),
			Investigated: strings.TrimSpace(raw.Summary.Investigated),
			Learned:      strings.TrimSpace(raw.Summary.Learned),
			Completed:    strings.TrimSpace(raw.Summary.Completed),
			NextSteps:    strings.TrimSpace(raw.Summary.NextSteps),
			FilesRead:    trimAll(raw.Summary.FilesRead),
			FilesEdited:  trimAll(raw.Summary.FilesEdited),
			Notes:        strings.TrimSpace(raw.Summary.Notes),
		}
	}

	return reply, nil
}

func trimAll(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
