package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/ibam/learnsync/core"
)

const (
	DefaultMaxRetries    = 5
	DefaultFlushInterval = 30 * time.Second
	DefaultPingInterval  = 5 * time.Second
)

type (
	Options struct {
		Store  Store
		Client Client
		Logger core.Logger

		MaxRetries    int
		FlushInterval time.Duration
		PingInterval  time.Duration
		// Offline starts the service offline until the first successful ping.
		Offline bool
	}

	ListenerID int

	listener struct {
		id ListenerID
		fn func(data interface{})
	}

	// Service buffers a learner's writes locally and replays them against the progress API.
	Service struct {
		store  Store
		client Client
		logger core.Logger
		opts   Options
		now    func() time.Time

		mu          sync.Mutex // guards the fields below
		state       *SessionState
		queue       []Operation
		deadLetters []DeadLetter
		online      bool

		flushMu sync.Mutex // held during a flush pass

		listenersMu sync.Mutex
		listeners   map[string][]listener
		nextID      ListenerID

		cronMu sync.Mutex
		cron   *cron.Cron
	}
)

// New returns a Service with the queue and dead letters left by a previous run.
// The persisted session state is only loaded by RecoverSession.
func New(opts Options) (*Service, error) {
	if opts.Store == nil || opts.Client == nil || opts.Logger == nil {
		return nil, errors.New("recovery: Store, Client and Logger are required")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}

	s := &Service{
		store:     opts.Store,
		client:    opts.Client,
		logger:    opts.Logger,
		opts:      opts,
		now:       time.Now,
		online:    !opts.Offline,
		listeners: make(map[string][]listener),
	}

	ctx := context.Background()
	if err := s.load(ctx, KeyOperationQueue, &s.queue); err != nil {
		return nil, err
	}
	if err := s.load(ctx, KeyDeadLetters, &s.deadLetters); err != nil {
		return nil, err
	}
	return s, nil
}

// Start schedules the periodic flush and network check.
func (s *Service) Start() {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cron != nil {
		return
	}

	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s.cron.Schedule(cron.Every(s.opts.FlushInterval), cron.FuncJob(s.autoSave))
	s.cron.Schedule(cron.Every(s.opts.PingInterval), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.PingInterval)
		defer cancel()
		s.CheckNetwork(ctx)
	}))
	s.cron.Start()
}

// Destroy stops the timers, waits for a running job and drops the listeners.
// In-flight requests are not cancelled.
func (s *Service) Destroy() {
	s.cronMu.Lock()
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
	s.cronMu.Unlock()

	s.listenersMu.Lock()
	s.listeners = make(map[string][]listener)
	s.listenersMu.Unlock()
}

func (s *Service) autoSave() {
	s.mu.Lock()
	due := s.online && len(s.queue) > 0
	s.mu.Unlock()
	if due {
		s.tryFlush(context.Background())
	}
}

// On registers fn for event and returns the id to pass to Off.
func (s *Service) On(event string, fn func(data interface{})) ListenerID {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.nextID++
	s.listeners[event] = append(s.listeners[event], listener{id: s.nextID, fn: fn})
	return s.nextID
}

func (s *Service) Off(event string, id ListenerID) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	ls := s.listeners[event]
	for i, l := range ls {
		if l.id == id {
			s.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// emit calls the listeners synchronously; it must not be called with s.mu held.
func (s *Service) emit(event string, data interface{}) {
	s.listenersMu.Lock()
	ls := append([]listener(nil), s.listeners[event]...)
	s.listenersMu.Unlock()
	for _, l := range ls {
		l.fn(data)
	}
}

func (s *Service) notify(typ, msg string) {
	s.emit(EventNotification, Notification{Type: typ, Message: msg})
}

func (s *Service) load(ctx context.Context, key string, v interface{}) error {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil
		}
		return errors.Wrapf(err, "loading %s", key)
	}
	if err = json.Unmarshal(raw, v); err != nil {
		// corrupt entries are dropped
		s.logger.Error(fmt.Sprintf("decoding %s: %v", key, err), err)
		return nil
	}
	return nil
}

func (s *Service) save(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", key)
	}
	if err = s.store.Set(ctx, key, raw); err != nil {
		s.logger.Error(fmt.Sprintf("saving %s: %v", key, err), err)
		return errors.Wrapf(err, "saving %s", key)
	}
	return nil
}

// saveStateLocked persists the session state; s.mu must be held.
func (s *Service) saveStateLocked(ctx context.Context) error {
	if s.state == nil {
		return nil
	}
	return s.save(ctx, KeySessionState, s.state)
}

func (s *Service) saveQueueLocked(ctx context.Context) error {
	return s.save(ctx, KeyOperationQueue, s.queue)
}

func (s *Service) saveDeadLettersLocked(ctx context.Context) error {
	return s.save(ctx, KeyDeadLetters, s.deadLetters)
}
