package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/inovadata/whatsman/internal/agents"
	"github.com/inovadata/whatsman/internal/store"
)

const (
	videoRunInterval = 60 * time.Second
	videoJobBatch    = 50
	videoURLExpiry   = time.Hour
)

// ObjectStore is the slice of the media backend the job runner needs.
type ObjectStore interface {
	ListFiles(ctx context.Context, bucket string) ([]string, error)
	SignedURL(ctx context.Context, bucket, object string, expiry time.Duration) (string, error)
}

// VideoRunner drives video_distributor agents on their configured cadence.
// Each run fans one fresh video out to every subscriber by queueing an
// immediate scheduled message, leaving actual delivery to the dispatcher.
type VideoRunner struct {
	stores  *store.Stores
	objects ObjectStore
	rnd     agents.Rand
	now     func() time.Time
}

func NewVideoRunner(stores *store.Stores, objects ObjectStore, rnd agents.Rand) *VideoRunner {
	if rnd == nil {
		rnd = agents.DefaultRand
	}
	return &VideoRunner{stores: stores, objects: objects, rnd: rnd, now: time.Now}
}

// Run blocks until ctx is cancelled, processing due jobs once per tick.
func (r *VideoRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(videoRunInterval)
	defer ticker.Stop()

	slog.Info("video distribution runner started", "interval", videoRunInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunDue(ctx); err != nil {
				slog.Error("video job batch failed", "error", err)
			}
		}
	}
}

// RunDue executes every job whose next run time has arrived.
func (r *VideoRunner) RunDue(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "videorunner.batch")
	defer span.End()

	now := r.now().UTC()
	due, err := r.stores.VideoJobs.Due(ctx, now, videoJobBatch)
	if err != nil {
		return err
	}
	for i := range due {
		r.runJob(ctx, &due[i], now)
	}
	return nil
}

func (r *VideoRunner) runJob(ctx context.Context, job *store.VideoDistributionJob, now time.Time) {
	row, err := r.stores.Agents.Get(ctx, job.AgentID)
	if err != nil {
		slog.Warn("video job references missing agent, skipping", "job", job.ID, "agent", job.AgentID, "error", err)
		return
	}
	if !row.IsActive || row.Type != store.AgentTypeVideoDistributor {
		return
	}
	dist, err := agents.NewVideoDistributor(row.Config, r.rnd)
	if err != nil {
		slog.Warn("unreadable video distributor config, skipping", "agent", row.ID, "error", err)
		return
	}

	// Reschedule no matter what happens below, so a bad window or an
	// unreachable bucket cannot stall the cadence.
	defer func() {
		next := dist.CalculateNextRun(now)
		if err := r.stores.VideoJobs.UpdateRunTimes(ctx, job.ID, now, next); err != nil {
			slog.Error("job reschedule failed", "job", job.ID, "error", err)
		}
	}()

	if !dist.IsWithinActiveHours(now) {
		slog.Debug("outside active hours, skipping distribution", "agent", row.ID)
		return
	}

	if r.objects == nil {
		slog.Warn("no media storage configured, skipping distribution", "agent", row.ID)
		return
	}

	cfg := dist.Config()
	files, err := r.objects.ListFiles(ctx, cfg.BucketName)
	if err != nil || len(files) == 0 {
		slog.Warn("video bucket unavailable or empty, skipping distribution",
			"agent", row.ID, "bucket", cfg.BucketName, "error", err)
		return
	}

	for _, sub := range cfg.Subscribers {
		if err := r.distributeTo(ctx, row, dist, files, sub, now); err != nil {
			slog.Error("distribution to subscriber failed", "agent", row.ID, "subscriber", sub, "error", err)
		}
	}
}

func (r *VideoRunner) distributeTo(ctx context.Context, row *store.Agent, dist *agents.VideoDistributor, files []string, subscriber string, now time.Time) error {
	contactID, err := uuid.Parse(subscriber)
	if err != nil {
		slog.Warn("subscriber is not a contact id, skipping", "agent", row.ID, "subscriber", subscriber)
		return nil
	}
	contact, err := r.stores.Contacts.Get(ctx, contactID)
	if err != nil {
		slog.Warn("subscriber contact missing, skipping", "agent", row.ID, "contact", contactID, "error", err)
		return nil
	}

	sent, err := r.stores.VideoHistory.SentVideos(ctx, row.ID, contact.ID)
	if err != nil {
		return err
	}
	file, reset := dist.SelectVideoForContact(files, sent)
	if file == "" {
		return nil
	}
	url, err := r.objects.SignedURL(ctx, dist.Config().BucketName, file, videoURLExpiry)
	if err != nil {
		return err
	}

	msg := store.ScheduledMessage{
		ID:          uuid.Must(uuid.NewV7()),
		DeviceID:    row.DeviceID,
		ContactID:   contact.ID,
		ScheduledAt: now,
		ContentType: store.ContentTypeVideo,
		Content:     dist.FormatCaption(file),
		MediaURL:    url,
	}
	if err := r.stores.Scheduled.Create(ctx, &msg); err != nil {
		return err
	}
	if err := r.stores.VideoHistory.RecordSent(ctx, row.ID, contact.ID, file, reset); err != nil {
		return err
	}
	slog.Info("video queued for subscriber", "agent", row.ID, "contact", contact.ID, "video", file, "reset", reset)
	return nil
}
