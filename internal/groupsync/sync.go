// Package groupsync propagates captions across media-group siblings.
// Album messages arrive as individual webhook deliveries with the
// caption attached to only one of them, so sibling records converge on
// an authoritative caption after a short settling delay.
package groupsync

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/chatvault/chatvault/internal/audit"
	"github.com/chatvault/chatvault/internal/record"
)

// Synchronizer converges all records of one media group on a single
// authoritative caption. Sync is idempotent: authority is computed from
// the stored records, so re-running it on a settled group changes
// nothing.
type Synchronizer struct {
	records record.Repository
	sink    audit.Sink
	logger  *slog.Logger
}

// NewSynchronizer creates a caption synchronizer.
func NewSynchronizer(log *slog.Logger, records record.Repository, sink audit.Sink) *Synchronizer {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Synchronizer{
		records: records,
		sink:    sink,
		logger:  log.With(slog.String("service", "groupsync")),
	}
}

// Sync lists the group's records, elects the authoritative caption, and
// patches every sibling that disagrees. The authority's analyzed content
// travels with the caption. The most recently edited non-empty caption
// wins; among unedited captions the earliest message wins. Returns the
// number of records patched.
func (s *Synchronizer) Sync(ctx context.Context, mediaGroupID string) (int, error) {
	members, err := s.records.ListByMediaGroup(ctx, mediaGroupID)
	if err != nil {
		return 0, fmt.Errorf("list media group %s: %w", mediaGroupID, err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	authority := electAuthority(members)
	if authority == nil {
		// Nobody carries a caption yet. Nothing to propagate.
		return 0, nil
	}

	patched := 0
	for i := range members {
		member := &members[i]
		isAuthority := member.ID == authority.ID

		patch := record.Patch{}
		dirty := false
		if member.Caption != authority.Caption {
			patch.Caption = record.Ptr(authority.Caption)
			dirty = true
		}
		if authority.AnalyzedContent != nil && !reflect.DeepEqual(member.AnalyzedContent, authority.AnalyzedContent) {
			patch.AnalyzedContent = record.Ptr(authority.AnalyzedContent)
			dirty = true
		}
		if member.CaptionAuthoritative != isAuthority {
			patch.CaptionAuthoritative = record.Ptr(isAuthority)
			dirty = true
		}
		if !dirty {
			continue
		}
		if err := s.records.Update(ctx, member.ID, patch); err != nil {
			return patched, fmt.Errorf("sync record %s: %w", member.ID, err)
		}
		patched++
	}

	if patched > 0 {
		s.logger.Info("media group captions converged",
			slog.String("media_group_id", mediaGroupID),
			slog.Int("members", len(members)),
			slog.Int("patched", patched),
			slog.String("authority", authority.ID))
		s.sink.Record(ctx, audit.Event{
			Type:     audit.EventGroupSynced,
			EntityID: mediaGroupID,
			Metadata: map[string]any{
				"members":   len(members),
				"patched":   patched,
				"authority": authority.ID,
			},
		})
	}
	return patched, nil
}

// electAuthority picks the record whose caption all siblings adopt.
// Edited captions outrank original ones, newest edit first; among
// unedited captions the lowest platform message id wins so the election
// is stable across reruns.
func electAuthority(members []record.MessageRecord) *record.MessageRecord {
	var winner *record.MessageRecord
	for i := range members {
		candidate := &members[i]
		if candidate.Caption == "" {
			continue
		}
		if winner == nil || outranks(candidate, winner) {
			winner = candidate
		}
	}
	return winner
}

func outranks(a, b *record.MessageRecord) bool {
	aEdited, bEdited := !a.EditedAt.IsZero(), !b.EditedAt.IsZero()
	switch {
	case aEdited && !bEdited:
		return true
	case !aEdited && bEdited:
		return false
	case aEdited && bEdited && !a.EditedAt.Equal(b.EditedAt):
		return a.EditedAt.After(b.EditedAt)
	default:
		return a.PlatformMessageID < b.PlatformMessageID
	}
}
