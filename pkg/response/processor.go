package response

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/claude-mem/worker/pkg/mode"
	"github.com/claude-mem/worker/pkg/models"
	"github.com/claude-mem/worker/pkg/store"
	"github.com/claude-mem/worker/pkg/vector"
)

// Processor implements session.ResponseProcessor: parse, store, mirror,
// confirm. Store and confirm are not wrapped in one database/sql
// transaction here — a single `UPDATE ... WHERE status='processing'`
// immediately after the store commit is equally crash-safe, since a crash
// between the two leaves the message `processing` for stale recovery
// exactly as a rolled-back combined transaction would.
type Processor struct {
	Store  *store.Store
	Mirror *vector.Mirror
	Mode   *mode.Mode
	Scope  models.ObservationScope

	// OnStored, if set, is called once per successfully stored observation
	// after its vector mirror sync — the worker HTTP surface's SSE stream
	// wires this to fan the observation out to connected /stream clients.
	OnStored func(obs *models.Observation)
}

// ProcessObservation parses replyText as zero or more <observation>
// elements, stores every one that survives, mirrors them, and confirms
// messageID. stored reports whether anything was written; a false return
// without error means the reply parsed as an explicit skip or contained no
// observations, which confirms the message without creating rows.
func (p *Processor) ProcessObservation(ctx context.Context, messageID int64, memorySessionID, project, replyText string, promptNumber, discoveryTokens int) (bool, error) {
	parsed, err := Parse(replyText, p.Mode)
	if err != nil {
		slog.Warn("response parse failed, leaving message for stale recovery", "message_id", messageID, "err", err)
		return false, nil
	}
	if parsed.Skipped || len(parsed.Observations) == 0 {
		if err := p.Store.Confirm(ctx, messageID); err != nil {
			return false, fmt.Errorf("confirm skip: %w", err)
		}
		return false, nil
	}

	records := make([]*models.Observation, 0, len(parsed.Observations))
	for _, o := range parsed.Observations {
		records = append(records, &models.Observation{
			MemorySessionID: memorySessionID,
			Project:         project,
			Scope:           p.scopeOrDefault(),
			Type:            o.Type,
			Title:           o.Title,
			Subtitle:        o.Subtitle,
			Facts:           o.Facts,
			Narrative:       o.Narrative,
			Concepts:        o.Concepts,
			FilesRead:       o.FilesRead,
			FilesModified:   o.FilesModified,
			PromptNumber:    promptNumber,
			DiscoveryTokens: discoveryTokens,
			ContentHash:     contentHash(memorySessionID, o),
		})
	}

	ids, err := p.Store.StoreObservations(ctx, records)
	if err != nil {
		return false, fmt.Errorf("store observations: %w", err)
	}
	if err := p.Store.Confirm(ctx, messageID); err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}

	storedAny := false
	for i, id := range ids {
		if id == 0 {
			continue // deduped within the window, not an error
		}
		storedAny = true
		records[i].ID = id
		if p.Mirror != nil {
			p.Mirror.SyncObservation(ctx, records[i])
		}
		if p.OnStored != nil {
			p.OnStored(records[i])
		}
	}
	return storedAny, nil
}

// ProcessSummary parses replyText as an optional <summary> element, stores
// it if present, mirrors it, and confirms messageID.
func (p *Processor) ProcessSummary(ctx context.Context, messageID int64, memorySessionID, project, replyText string, promptNumber, discoveryTokens int) (bool, error) {
	parsed, err := Parse(replyText, p.Mode)
	if err != nil {
		slog.Warn("summary parse failed, leaving message for stale recovery", "message_id", messageID, "err", err)
		return false, nil
	}
	if parsed.Skipped || parsed.Summary == nil {
		if err := p.Store.Confirm(ctx, messageID); err != nil {
			return false, fmt.Errorf("confirm skip: %w", err)
		}
		return false, nil
	}

	sum := &models.SessionSummary{
		MemorySessionID: memorySessionID,
		Project:         project,
		Scope:           p.scopeOrDefault(),
		Request:         parsed.Summary.Request,
		Investigated:    parsed.Summary.Investigated,
		Learned:         parsed.Summary.Learned,
		Completed:       parsed.Summary.Completed,
		NextSteps:       parsed.Summary.NextSteps,
		FilesRead:       parsed.Summary.FilesRead,
		FilesEdited:     parsed.Summary.FilesEdited,
		Notes:           parsed.Summary.Notes,
		PromptNumber:    promptNumber,
		DiscoveryTokens: discoveryTokens,
	}
	id, err := p.Store.StoreSummary(ctx, sum)
	if err != nil {
		return false, fmt.Errorf("store summary: %w", err)
	}
	if err := p.Store.Confirm(ctx, messageID); err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}
	sum.ID = id
	if p.Mirror != nil {
		p.Mirror.SyncSummary(ctx, sum)
	}
	return true, nil
}

func (p *Processor) scopeOrDefault() models.ObservationScope {
	if p.Scope == "" {
		return models.ScopeProject
	}
	return p.Scope
}

// contentHash derives the dedup key stored alongside an observation:
// memory_session_id ∥ title ∥ narrative, scoping the dedup to a single
// provider-side session rather than the full record (prompt_number/
// discovery_tokens legitimately differ across otherwise-identical
// re-extractions).
func contentHash(memorySessionID string, o ParsedObservation) string {
	h := sha256.New()
	h.Write([]byte(memorySessionID))
	h.Write([]byte(o.Title))
	h.Write([]byte(o.Narrative))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
