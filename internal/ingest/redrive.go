package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/chatvault/chatvault/internal/audit"
	"github.com/chatvault/chatvault/internal/media"
	"github.com/chatvault/chatvault/internal/record"
)

// RedriveReport summarizes one redrive sweep.
type RedriveReport struct {
	Attempted int `json:"attempted"`
	Recovered int `json:"recovered"`
	Expired   int `json:"expired"`
	Failed    int `json:"failed"`
}

// Redrive sweeps records flagged needs_redownload and retries their
// transfer with the stored file handle. Handles that are still expired
// stay flagged for the next sweep.
func (o *Orchestrator) Redrive(ctx context.Context, limit int) (RedriveReport, error) {
	correlationID := uuid.NewString()
	report := RedriveReport{}
	log := o.logger.With(slog.String("correlation_id", correlationID))

	flagged, err := o.records.ListNeedingRedownload(ctx, limit)
	if err != nil {
		return report, &Error{CorrelationID: correlationID, Err: err}
	}

	for i := range flagged {
		rec := &flagged[i]
		report.Attempted++

		outcome := o.transfer.Transfer(ctx, media.Content{
			FileUniqueID: rec.FileUniqueID,
			FileHandle:   rec.FileHandle,
			Kind:         media.Kind(rec.MediaKind),
			DeclaredMime: rec.MimeType,
		})

		switch outcome.Class {
		case media.ClassOK:
			state, terr := record.Transition(rec.State, record.StatePending)
			if terr != nil {
				state = record.StatePending
			}
			patch := record.Patch{
				StoragePath:      record.Ptr(outcome.StoragePath),
				PublicURL:        record.Ptr(outcome.PublicURL),
				MimeType:         record.Ptr(outcome.MimeType),
				State:            record.Ptr(state),
				NeedsRedownload:  record.Ptr(false),
				RedownloadReason: record.Ptr(""),
			}
			if err := o.records.Update(ctx, rec.ID, patch); err != nil {
				report.Failed++
				log.Error("redrive update failed",
					slog.String("record_id", rec.ID),
					slog.String("error", err.Error()))
				continue
			}
			report.Recovered++
			log.Info("record redriven",
				slog.String("record_id", rec.ID),
				slog.String("storage_path", outcome.StoragePath))
			o.sink.Record(ctx, audit.Event{
				Type:          audit.EventRedriven,
				EntityID:      rec.ID,
				CorrelationID: correlationID,
				Metadata:      map[string]any{"storage_path": outcome.StoragePath},
			})

		case media.ClassHandleExpired:
			report.Expired++
			patch := record.Patch{RetryCount: record.Ptr(rec.RetryCount + outcome.AttemptsMade)}
			if err := o.records.Update(ctx, rec.ID, patch); err != nil {
				log.Error("redrive bookkeeping failed",
					slog.String("record_id", rec.ID),
					slog.String("error", err.Error()))
			}

		default:
			report.Failed++
			log.Warn("redrive transfer failed",
				slog.String("record_id", rec.ID),
				slog.String("class", string(outcome.Class)),
				slog.String("error", outcome.Err.Error()))
		}
	}
	return report, nil
}

// MarkAnalyzed records the caption-analysis result and completes the
// record's lifecycle.
func (o *Orchestrator) MarkAnalyzed(ctx context.Context, id string, analyzed map[string]any) (*record.MessageRecord, error) {
	rec, err := o.records.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	state := rec.State
	if next, terr := record.Transition(rec.State, record.StateCompleted); terr == nil {
		state = next
	}
	patch := record.Patch{
		AnalyzedContent: record.Ptr(analyzed),
		State:           record.Ptr(state),
	}
	if err := o.records.Update(ctx, rec.ID, patch); err != nil {
		return nil, err
	}
	rec.AnalyzedContent = analyzed
	rec.State = state
	o.logger.Info("record analyzed",
		slog.String("record_id", rec.ID),
		slog.String("state", string(state)))
	return rec, nil
}

// RedriveJob runs periodic redrive sweeps on a cron schedule.
type RedriveJob struct {
	orchestrator *Orchestrator
	logger       *slog.Logger
	cron         *cron.Cron
	batch        int
}

// NewRedriveJob creates the sweep job; spec is a cron expression or a
// descriptor like "@every 10m".
func NewRedriveJob(log *slog.Logger, orchestrator *Orchestrator, spec string, batch int) (*RedriveJob, error) {
	if log == nil {
		log = slog.Default()
	}
	if batch <= 0 {
		batch = 50
	}
	job := &RedriveJob{
		orchestrator: orchestrator,
		logger:       log.With(slog.String("service", "redrive")),
		cron:         cron.New(),
		batch:        batch,
	}
	if _, err := job.cron.AddFunc(spec, job.sweep); err != nil {
		return nil, err
	}
	return job, nil
}

func (j *RedriveJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := j.orchestrator.Redrive(ctx, j.batch)
	if err != nil {
		j.logger.Error("redrive sweep failed", slog.String("error", err.Error()))
		return
	}
	if report.Attempted > 0 {
		j.logger.Info("redrive sweep finished",
			slog.Int("attempted", report.Attempted),
			slog.Int("recovered", report.Recovered),
			slog.Int("expired", report.Expired),
			slog.Int("failed", report.Failed))
	}
}

// Start begins the schedule.
func (j *RedriveJob) Start() { j.cron.Start() }

// Stop halts scheduling and waits for a running sweep to finish.
func (j *RedriveJob) Stop() {
	<-j.cron.Stop().Done()
}
