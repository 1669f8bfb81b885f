package notify

import (
	"context"
	"time"

	"github.com/wolfman30/proposal-wizard/pkg/logging"
)

// Notifier delivers one formatted message.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Service delivers wizard messages to the primary channel and mirrors them to
// any secondary channels. Only the primary result is reported to callers;
// mirror failures are logged.
type Service struct {
	primary       Notifier
	mirrors       []Notifier
	mirrorTimeout time.Duration
	logger        *logging.Logger
}

// NewService creates a notification service around primary.
func NewService(primary Notifier, logger *logging.Logger, mirrors ...Notifier) *Service {
	if primary == nil {
		panic("notify: primary notifier cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		primary:       primary,
		mirrors:       mirrors,
		mirrorTimeout: 10 * time.Second,
		logger:        logger,
	}
}

// Send delivers text to the primary notifier, then to every mirror.
func (s *Service) Send(ctx context.Context, text string) error {
	err := s.primary.Send(ctx, text)
	if len(s.mirrors) == 0 {
		return err
	}

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.mirrorTimeout)
	defer cancel()
	for i, m := range s.mirrors {
		if merr := m.Send(mctx, text); merr != nil {
			s.logger.Warn("notify: mirror delivery failed", "mirror", i, "error", merr)
		}
	}
	return err
}

// Filter forwards only the messages keep accepts; the rest are dropped as delivered.
type Filter struct {
	next Notifier
	keep func(text string) bool
}

func NewFilter(next Notifier, keep func(text string) bool) *Filter {
	if next == nil || keep == nil {
		panic("notify: filter requires a notifier and a predicate")
	}
	return &Filter{next: next, keep: keep}
}

func (f *Filter) Send(ctx context.Context, text string) error {
	if !f.keep(text) {
		return nil
	}
	return f.next.Send(ctx, text)
}

// StubNotifier logs messages instead of sending them. Used when no bot token is configured.
type StubNotifier struct {
	logger *logging.Logger
}

func NewStubNotifier(logger *logging.Logger) *StubNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubNotifier{logger: logger}
}

func (s *StubNotifier) Send(ctx context.Context, text string) error {
	s.logger.Info("stub notifier: would send message", "length", len(text), "preview", preview(text, 80))
	return nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
