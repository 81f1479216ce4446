// Package notify is the outbound notification pipeline: a bounded queue
// drained by one worker through a rate limiter into a pluggable Adapter.
//
// Notify is fire-and-forget: it never blocks the caller meaningfully and
// adapter failures never fail the run that produced the notification.
package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "trayrunner/pkg/logx"
)

// Adapter delivers one rendered notification.
type Adapter interface {
	Send(ctx context.Context, title, message string) error
}

type Config struct {
	QueueSize  int
	RatePerSec int
	Burst      int
}

type item struct {
	title   string
	message string
	at      time.Time
}

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter Adapter
	cfg     Config
	limiter *rate.Limiter

	queue  chan item
	stopCh chan struct{}
	doneCh chan struct{}
}

func New(cfg Config, adapter Adapter, log logx.Logger) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &Service{
		log:     log,
		adapter: adapter,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.queue = make(chan item, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.worker(ctx, s.stopCh, s.doneCh, s.queue)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.stopCh = nil
	s.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-ctx.Done():
	}
}

// Notify enqueues a notification. When the queue is full the message is
// dropped with a warning rather than blocking the caller.
func (s *Service) Notify(title, message string) {
	s.mu.Lock()
	q := s.queue
	running := s.stopCh != nil
	s.mu.Unlock()
	if !running || q == nil {
		s.log.Debug("notifier not running; dropping notification", logx.String("title", title))
		return
	}
	select {
	case q <- item{title: title, message: message, at: time.Now()}:
	default:
		s.log.Warn("notification queue full; dropping", logx.String("title", title))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}, queue <-chan item) {
	defer close(doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case it := <-queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := s.adapter.Send(sendCtx, it.title, it.message)
			cancel()
			if err != nil {
				s.log.Warn("notification delivery failed", logx.String("title", it.title), logx.Err(err))
			} else {
				s.log.Debug("notification delivered", logx.String("title", it.title))
			}
		}
	}
}
