package mqtt

import (
	"context"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/directory"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"golang.org/x/sync/semaphore"
)

// ResponseHandler consumes one inbound device response.
type ResponseHandler func(ctx context.Context, msg domain.InboundMessage)

// backlogPerWorker sizes the queue between the broker callbacks and the pool.
const backlogPerWorker = 16

// Subscriber admits device responses into a bounded pool of goroutines and
// applies status reports to the asset registry. Broker callbacks only enqueue;
// a pump goroutine moves queued messages into the pool.
type Subscriber struct {
	root     string
	handle   ResponseHandler
	registry ports.AssetRegistry
	sem      *semaphore.Weighted
	backlog  chan domain.InboundMessage
	log      *logger.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	quit     chan struct{}
	pumpDone chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSubscriber(root string, workers int, handle ResponseHandler, registry ports.AssetRegistry, log *logger.Logger) *Subscriber {
	if workers <= 0 {
		workers = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		root:     root,
		handle:   handle,
		registry: registry,
		sem:      semaphore.NewWeighted(int64(workers)),
		backlog:  make(chan domain.InboundMessage, workers*backlogPerWorker),
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		quit:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	go s.pump()
	return s
}

// Attach registers the response and status subscriptions on client.
func (s *Subscriber) Attach(client *Client) error {
	if err := client.Subscribe(ResponseFilter(s.root), s.onResponse); err != nil {
		return err
	}
	if s.registry != nil {
		if err := client.Subscribe(StatusFilter(s.root), s.onStatus); err != nil {
			return err
		}
	}
	return nil
}

func (s *Subscriber) onResponse(_ paho.Client, m paho.Message) {
	// Our own retained-release publishes come back empty.
	if len(m.Payload()) == 0 {
		return
	}
	msg := domain.InboundMessage{
		Topic:    m.Topic(),
		Payload:  append([]byte(nil), m.Payload()...),
		Retained: m.Retained(),
	}
	s.Dispatch(msg)
}

// Dispatch queues msg for the worker pool. It waits only while the backlog
// is full.
func (s *Subscriber) Dispatch(msg domain.InboundMessage) {
	select {
	case <-s.quit:
		s.log.Warnw("response_dropped_shutdown", "topic", msg.Topic)
		return
	default:
	}
	select {
	case s.backlog <- msg:
	case <-s.quit:
		s.log.Warnw("response_dropped_shutdown", "topic", msg.Topic)
	}
}

func (s *Subscriber) pump() {
	defer close(s.pumpDone)
	for {
		select {
		case msg := <-s.backlog:
			s.admit(msg)
		case <-s.quit:
			for {
				select {
				case msg := <-s.backlog:
					s.admit(msg)
				default:
					return
				}
			}
		}
	}
}

func (s *Subscriber) admit(msg domain.InboundMessage) {
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		s.log.Warnw("response_dropped_shutdown", "topic", msg.Topic)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				s.log.Errorw("response_handler_panic", "topic", msg.Topic, "panic", r)
			}
		}()
		s.handle(s.ctx, msg)
	}()
}

func (s *Subscriber) onStatus(_ paho.Client, m paho.Message) {
	if len(m.Payload()) == 0 {
		return
	}
	if err := s.ApplyStatus(m.Topic(), m.Payload()); err != nil {
		s.log.Warnw("status_report_rejected", "topic", m.Topic(), "error", err)
	}
}

// ApplyStatus upserts the device state carried by a status report.
func (s *Subscriber) ApplyStatus(topic string, payload []byte) error {
	state, err := directory.DecodeStatusReport(payload, statusTopicKey(s.root, topic))
	if err != nil {
		return err
	}
	return s.registry.Upsert(s.ctx, state)
}

func statusTopicKey(root, topic string) domain.AssetKey {
	rest, ok := strings.CutPrefix(topic, root+"/status/")
	if !ok {
		return domain.AssetKey{}
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return domain.AssetKey{}
	}
	return domain.AssetKey{TypeID: parts[0], AssetID: parts[1]}
}

// Stop refuses new messages, runs what is already queued and waits for the
// handlers to return.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	<-s.pumpDone
	s.wg.Wait()
	s.cancel()
}
