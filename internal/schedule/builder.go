// Package schedule turns a subscription opt-in into a series of scheduled
// messages, one per day, optionally backed by media from an object store.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inovadata/whatsman/internal/agents"
	"github.com/inovadata/whatsman/internal/store"
)

// ObjectStore is the slice of the media backend the builder needs.
type ObjectStore interface {
	ListFiles(ctx context.Context, bucket string) ([]string, error)
	SignedURL(ctx context.Context, bucket, object string, expiry time.Duration) (string, error)
}

// Builder materializes subscription message series. It implements
// agents.ScheduleCreator.
type Builder struct {
	scheduled store.ScheduledMessageStore
	history   store.VideoHistoryStore
	objects   ObjectStore
	rnd       agents.Rand
	now       func() time.Time
}

func NewBuilder(scheduled store.ScheduledMessageStore, history store.VideoHistoryStore, objects ObjectStore, rnd agents.Rand) *Builder {
	if rnd == nil {
		rnd = agents.DefaultRand
	}
	return &Builder{
		scheduled: scheduled,
		history:   history,
		objects:   objects,
		rnd:       rnd,
		now:       time.Now,
	}
}

// CreateSubscriptionSchedules inserts one scheduled message per day of the
// series, starting at the next occurrence of the configured send time in UTC.
// When a media bucket is configured each day gets its own file, chosen with
// the same exclusion rules the video distributor uses, and a signed URL that
// stays valid until that day's send. A bucket failure degrades the whole
// series to text rather than aborting it.
func (b *Builder) CreateSubscriptionSchedules(ctx context.Context, deviceID, contactID, agentID uuid.UUID, spec agents.ScheduleSpec) (int, error) {
	now := b.now().UTC()

	sendTime, err := time.Parse("15:04", spec.Time)
	if err != nil {
		slog.Warn("invalid schedule time, using 09:00", "value", spec.Time, "error", err)
		sendTime, _ = time.Parse("15:04", "09:00")
	}
	base := time.Date(now.Year(), now.Month(), now.Day(), sendTime.Hour(), sendTime.Minute(), 0, 0, time.UTC)
	if !base.After(now) {
		base = base.AddDate(0, 0, 1)
	}

	useMedia := b.objects != nil && spec.MediaBucketName != "" &&
		spec.ContentType != "" && spec.ContentType != store.ContentTypeText
	var files []string
	if useMedia {
		files, err = b.objects.ListFiles(ctx, spec.MediaBucketName)
		if err != nil || len(files) == 0 {
			slog.Warn("media bucket unavailable, falling back to text series",
				"bucket", spec.MediaBucketName, "agent", agentID, "error", err)
			useMedia = false
		}
	}

	var sent []string
	if useMedia {
		sent, err = b.history.SentVideos(ctx, agentID, contactID)
		if err != nil {
			return 0, fmt.Errorf("load media history: %w", err)
		}
	}

	created := 0
	for offset := 0; offset < spec.Days; offset++ {
		msg := store.ScheduledMessage{
			ID:          uuid.Must(uuid.NewV7()),
			DeviceID:    deviceID,
			ContactID:   contactID,
			ScheduledAt: base.AddDate(0, 0, offset),
			ContentType: store.ContentTypeText,
			Content:     spec.Template,
		}
		if useMedia {
			file, reset := agents.SelectMedia(files, sent, b.rnd)
			if reset {
				sent = nil
			}
			url, err := b.objects.SignedURL(ctx, spec.MediaBucketName, file, time.Duration(24+offset*24)*time.Hour)
			if err != nil {
				return created, fmt.Errorf("sign url for %s: %w", file, err)
			}
			if err := b.history.RecordSent(ctx, agentID, contactID, file, reset); err != nil {
				return created, fmt.Errorf("record media history: %w", err)
			}
			sent = append(sent, file)
			msg.ContentType = spec.ContentType
			msg.Content = renderMediaCaption(spec.CaptionTemplate, file)
			msg.MediaURL = url
		}
		if err := b.scheduled.Create(ctx, &msg); err != nil {
			return created, fmt.Errorf("create scheduled message: %w", err)
		}
		created++
	}
	slog.Info("subscription series created", "agent", agentID, "contact", contactID, "days", created, "media", useMedia)
	return created, nil
}

func renderMediaCaption(tmpl, filename string) string {
	if tmpl == "" {
		return ""
	}
	caption := strings.ReplaceAll(tmpl, "{{media_name}}", agents.StripExtension(filename))
	return strings.ReplaceAll(caption, "{{media_filename}}", filename)
}
