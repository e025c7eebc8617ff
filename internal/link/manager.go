package link

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mksystems/hwlink/internal/config"
	"github.com/mksystems/hwlink/internal/diag"
	"github.com/mksystems/hwlink/internal/logging"
)

// Manager runs one session per configured board.
type Manager struct {
	sessions []*Session
	byName   map[string]*Session
}

// NewManager creates sessions for every board in cfg, in file order.
func NewManager(cfg *config.Config, sink diag.Sink, options ...Option) (*Manager, error) {
	m := &Manager{byName: make(map[string]*Session, len(cfg.Boards))}
	for _, b := range cfg.Boards {
		s, err := NewSession(b, sink, options...)
		if err != nil {
			return nil, err
		}
		m.sessions = append(m.sessions, s)
		m.byName[b.Name] = s
	}
	return m, nil
}

// Sessions returns the sessions in board ID order.
func (m *Manager) Sessions() []*Session {
	return append([]*Session(nil), m.sessions...)
}

// Session returns the session for the named board, or nil.
func (m *Manager) Session(name string) *Session {
	return m.byName[name]
}

// Statuses snapshots every session.
func (m *Manager) Statuses() []Status {
	out := make([]Status, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Status())
	}
	return out
}

// Run runs every session until ctx is done or one fails.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range m.sessions {
		s := s
		g.Go(func() error {
			logging.Info("Starting board link",
				zap.Int("id", s.ID()),
				zap.String("board", s.Name()),
				zap.String("session", s.UUID()),
				zap.String("dialect", s.Dialect().Name),
			)
			return s.Run(ctx)
		})
	}
	return g.Wait()
}
