package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkgate/internal/progress"
)

// LogSink writes each progress event as a structured log line. Page fetches
// log at debug so a large site does not flood info output.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("crawl_id", evt.CrawlUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StagePageFetched:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
			s.logger.Debug("Page fetched", fields...)
		case progress.StagePassDone:
			fields = append(fields, zap.Int("pass", evt.Pass), zap.Int("broken", evt.Broken), zap.Duration("dur", evt.Dur))
			s.logger.Info("Pass complete", fields...)
		case progress.StageCrawlError:
			fields = append(fields, zap.String("note", evt.Note), zap.Duration("dur", evt.Dur))
			s.logger.Error("Crawl failed", fields...)
		default:
			if evt.URL != "" {
				fields = append(fields, zap.String("url", evt.URL))
			}
			fields = append(fields, zap.Int("broken", evt.Broken), zap.Duration("dur", evt.Dur))
			s.logger.Info("Crawl progress", fields...)
		}
	}
	return nil
}

// Close implements progress.Sink; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
