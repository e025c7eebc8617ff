package diag

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mksystems/hwlink/internal/logging"
)

// LogSink writes events to the zap logger. Problem events share a token
// bucket so a corrupted stream cannot flood the log; frames are logged at
// debug level and are not throttled.
type LogSink struct {
	limiter *rate.Limiter
	logger  func() *zap.Logger
}

// NewLogSink allows perSecond warnings per second with the given burst.
func NewLogSink(perSecond float64, burst int) *LogSink {
	return &LogSink{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logging.GetLogger,
	}
}

func (s *LogSink) Emit(e Event) {
	log := s.logger()

	fields := []zap.Field{
		zap.String("board", e.Board),
		zap.String("session", e.Session),
		zap.String("kind", string(e.Kind)),
		zap.String("command", fmt.Sprintf("0x%02x", e.Command)),
	}

	switch e.Kind {
	case KindFrame, KindSent:
		log.Debug("Frame", append(fields, zap.Int("bytes", e.Bytes))...)
		return
	case KindConnection:
		log.Info(e.Message, fields[:2]...)
		return
	}

	if !s.limiter.AllowN(time.Now(), 1) {
		return
	}
	if e.Kind == KindResync {
		fields = append(fields, zap.Uint64("resync_count", e.ResyncCount))
	}
	if e.Message != "" {
		fields = append(fields, zap.String("detail", e.Message))
	}
	log.Warn("Protocol diagnostic", fields...)
}
