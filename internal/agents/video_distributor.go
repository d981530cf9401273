package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/inovadata/whatsman/internal/store"
)

// VideoDistributorConfig is the persisted configuration of a video
// distribution agent. Times are "HH:MM" strings.
type VideoDistributorConfig struct {
	BucketName       string   `json:"bucket_name"`
	IntervalHours    int      `json:"interval_hours"`
	Subscribers      []string `json:"subscribers"`
	CaptionTemplate  string   `json:"caption_template"`
	ActiveHoursStart string   `json:"active_hours_start"`
	ActiveHoursEnd   string   `json:"active_hours_end"`
}

// VideoDistributor never reacts to inbound messages. It only exists as a
// configuration holder for the background job runner, which drives delivery
// on a timer.
type VideoDistributor struct {
	cfg VideoDistributorConfig
	rnd Rand
}

func NewVideoDistributor(raw json.RawMessage, rnd Rand) (*VideoDistributor, error) {
	var cfg VideoDistributorConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse video_distributor config: %w", err)
		}
	}
	if cfg.IntervalHours == 0 {
		cfg.IntervalHours = 24
	}
	if rnd == nil {
		rnd = DefaultRand
	}
	return &VideoDistributor{cfg: cfg, rnd: rnd}, nil
}

// Config exposes the parsed configuration to the job runner.
func (a *VideoDistributor) Config() VideoDistributorConfig { return a.cfg }

func (a *VideoDistributor) CanHandle(*InboundMessage) bool { return false }

func (a *VideoDistributor) Process(context.Context, *InboundMessage, json.RawMessage, *store.Conversation) (Response, error) {
	return Response{}, nil
}

// IsWithinActiveHours reports whether now falls inside the configured send
// window. No configured window means always active, and a malformed window is
// treated as always active rather than silencing the agent.
func (a *VideoDistributor) IsWithinActiveHours(now time.Time) bool {
	if a.cfg.ActiveHoursStart == "" || a.cfg.ActiveHoursEnd == "" {
		return true
	}
	start, err := parseClock(a.cfg.ActiveHoursStart)
	if err != nil {
		slog.Warn("invalid active_hours_start, treating window as open", "value", a.cfg.ActiveHoursStart, "error", err)
		return true
	}
	end, err := parseClock(a.cfg.ActiveHoursEnd)
	if err != nil {
		slog.Warn("invalid active_hours_end, treating window as open", "value", a.cfg.ActiveHoursEnd, "error", err)
		return true
	}
	cur := now.Hour()*60 + now.Minute()
	if end < start {
		// Window spans midnight, e.g. 22:00 to 06:00.
		return cur >= start || cur <= end
	}
	return cur >= start && cur <= end
}

// SelectVideoForContact picks a video the contact has not received yet. When
// every video has been sent it signals that the history should be reset and
// picks from the full list again.
func (a *VideoDistributor) SelectVideoForContact(all, sent []string) (video string, shouldReset bool) {
	return SelectMedia(all, sent, a.rnd)
}

// FormatCaption renders the caption template for a video file. {{video_name}}
// is the filename without its extension, {{video_filename}} the full name.
func (a *VideoDistributor) FormatCaption(filename string) string {
	if a.cfg.CaptionTemplate == "" {
		return ""
	}
	caption := strings.ReplaceAll(a.cfg.CaptionTemplate, "{{video_name}}", StripExtension(filename))
	return strings.ReplaceAll(caption, "{{video_filename}}", filename)
}

// CalculateNextRun returns the next delivery time after from. When the plain
// interval lands outside the active window the run moves to the window start,
// on the next day if the same-day start is not after from.
func (a *VideoDistributor) CalculateNextRun(from time.Time) time.Time {
	next := from.Add(time.Duration(a.cfg.IntervalHours) * time.Hour)
	if a.cfg.ActiveHoursStart == "" || a.cfg.ActiveHoursEnd == "" {
		return next
	}
	if a.IsWithinActiveHours(next) {
		return next
	}
	start, err := parseClock(a.cfg.ActiveHoursStart)
	if err != nil {
		return next
	}
	candidate := time.Date(next.Year(), next.Month(), next.Day(), start/60, start%60, 0, 0, next.Location())
	if !candidate.After(from) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// SelectMedia implements exclusion-based selection over a bucket listing:
// random pick from the not-yet-sent files, or from the full list with a reset
// signal once every file has been sent.
func SelectMedia(all, sent []string, rnd Rand) (string, bool) {
	if len(all) == 0 {
		return "", false
	}
	if rnd == nil {
		rnd = DefaultRand
	}
	sentSet := make(map[string]struct{}, len(sent))
	for _, f := range sent {
		sentSet[f] = struct{}{}
	}
	var available []string
	for _, f := range all {
		if _, ok := sentSet[f]; !ok {
			available = append(available, f)
		}
	}
	if len(available) == 0 {
		return all[rnd.Intn(len(all))], true
	}
	return available[rnd.Intn(len(available))], false
}

// StripExtension returns a media filename without its extension.
func StripExtension(filename string) string {
	return strings.TrimSuffix(filename, path.Ext(filename))
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
