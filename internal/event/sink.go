package event

import (
	"context"

	"github.com/recotune/recotune/pkg/log"
)

// LogSink writes every event published on b to the process log until ctx
// is done. It returns once the subscription is in place.
func LogSink(ctx context.Context, b Bus) error {
	ch, err := b.Subscribe(ctx, Filter{})
	if err != nil {
		return err
	}

	go func() {
		for e := range ch {
			log.Info(
				"event",
				"type", e.Type,
				"job_id", e.JobID,
				"study", e.Study,
				"payload", string(e.Payload),
			)
		}
	}()

	return nil
}
