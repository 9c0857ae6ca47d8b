package chat

import (
	"context"
	"net/http"

	"github.com/buddhatalk/swcache/pkg/worker"
)

// Sync tags registered by the Buddha Talk front end.
const (
	TagDailyMeditation = "daily-meditation"
	TagSyncMessages    = "sync-messages"
)

// MeditationRefresher returns a periodicsync handler that refreshes the daily
// meditation. The call goes through the client's transport, so with a worker
// transport the fresh answer lands in the runtime store for offline use.
// Events with other tags are ignored.
func MeditationRefresher(c *Client) worker.Handler {
	return func(ctx context.Context, ev *worker.Event) (*http.Response, error) {
		if ev.Tag != TagDailyMeditation {
			return nil, nil
		}
		m, err := c.DailyMeditation(ctx)
		if err != nil {
			return nil, err
		}
		c.logger.Info().Str("title", m.Title).Msg("Daily meditation refreshed")
		return nil, nil
	}
}

// MessageSync returns a sync handler for the "sync-messages" tag.
// Messages are never queued while offline, so there is nothing to replay;
// the handler only records that the browser asked.
func MessageSync(c *Client) worker.Handler {
	return func(_ context.Context, ev *worker.Event) (*http.Response, error) {
		if ev.Tag == TagSyncMessages {
			c.logger.Debug().Str("event_id", ev.ID).Msg("Message sync requested")
		}
		return nil, nil
	}
}
