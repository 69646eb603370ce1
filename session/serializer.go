package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rjroy/adventure-engine/metrics"
	"github.com/rjroy/adventure-engine/wire"
)

// ErrQueueFull is returned by Submit when the session's turn queue is at its
// depth cap. The condition is retryable: the client should resubmit after
// the current turn drains.
var ErrQueueFull = errors.New("session: turn queue is full")

// ErrClosed is returned by Submit after the serializer has shut down.
var ErrClosed = errors.New("session: serializer is closed")

// Emitter receives a turn's lifecycle events. The server's connection
// implements it by writing wire messages to the bound connection; emit
// failures are the connection's problem, not the serializer's.
type Emitter interface {
	TurnStart(turnID uint64)
	TurnChunk(turnID uint64, text string)
	TurnEnd(turnID uint64)
	TurnError(code wire.ErrorCode, msg string, retryable bool)
}

// SerializerConfig bounds one session's turn processing.
type SerializerConfig struct {
	// TurnDeadline is the finite deadline for a single turn-generation call.
	TurnDeadline time.Duration
	// MaxQueueDepth caps queued-but-unprocessed requests.
	MaxQueueDepth int
}

// TurnRequest is one queued unit of input, ordered by enqueue time.
type TurnRequest struct {
	Text       string
	Bootstrap  bool
	EnqueuedAt time.Time
}

// Serializer is the per-session concurrency core. A single goroutine owns
// the session state and drains a bounded mailbox in FIFO order, so turns for
// one session are never generated concurrently and are processed in strict
// submission order. It is created when a connection authenticates and
// destroyed when that connection closes; queued-but-unprocessed requests are
// discarded on close.
type Serializer struct {
	sessionID string
	state     *State // owned by the run loop after construction
	engine    TurnEngine
	store     Store
	emitter   Emitter
	cfg       SerializerConfig
	log       *zap.Logger

	mailbox    chan TurnRequest
	ctx        context.Context
	cancel     context.CancelFunc
	closed     atomic.Bool
	processing atomic.Bool
	done       chan struct{}
	closeOnce  sync.Once
}

// NewSerializer builds a serializer owning the given state and starts its
// run loop. The caller must eventually call Close.
func NewSerializer(state *State, engine TurnEngine, store Store, emitter Emitter, cfg SerializerConfig, logger *zap.Logger) *Serializer {
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = 8
	}
	if cfg.TurnDeadline <= 0 {
		cfg.TurnDeadline = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Serializer{
		sessionID: state.SessionID,
		state:     state,
		engine:    engine,
		store:     store,
		emitter:   emitter,
		cfg:       cfg,
		log:       logger.With(zap.String("session_id", state.SessionID)),
		mailbox:   make(chan TurnRequest, cfg.MaxQueueDepth),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.runLoop()
	return s
}

// SessionID returns the bound session id.
func (s *Serializer) SessionID() string { return s.sessionID }

// Processing reports whether a turn-generation call is outstanding.
func (s *Serializer) Processing() bool { return s.processing.Load() }

// QueueLen returns the number of queued-but-unprocessed requests.
func (s *Serializer) QueueLen() int { return len(s.mailbox) }

// TurnCount returns the number of turns already in the session history.
// Only meaningful before the run loop starts consuming, or after Close.
func (s *Serializer) TurnCount() int { return len(s.state.Turns) }

// Submit enqueues one unit of player input. It never blocks: a full queue
// yields ErrQueueFull so the caller can surface a retryable rejection
// instead of growing without bound.
func (s *Serializer) Submit(text string) error {
	return s.post(TurnRequest{Text: text, EnqueuedAt: time.Now()})
}

// Bootstrap enqueues the synthesized opening request for a session with
// empty history.
func (s *Serializer) Bootstrap() error {
	return s.post(TurnRequest{Bootstrap: true, EnqueuedAt: time.Now()})
}

func (s *Serializer) post(req TurnRequest) error {
	if s.closed.Load() {
		return ErrClosed
	}
	select {
	case s.mailbox <- req:
		metrics.UpdateGauge("session", "queue_length", float64(len(s.mailbox)))
		return nil
	default:
		metrics.IncrCounterWithDim("session", "turn_rejected_total", metrics.Dimension{"reason": "queue_full"})
		return ErrQueueFull
	}
}

// Close stops the run loop. Queued-but-unprocessed requests are discarded;
// an in-flight generation call is abandoned via context cancellation. Safe
// to call more than once; returns once the loop has exited.
func (s *Serializer) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
	<-s.done
}

func (s *Serializer) runLoop() {
	s.log.Debug("turn serializer started")
	defer func() {
		s.log.Debug("turn serializer exited", zap.Int("discarded", len(s.mailbox)))
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-s.mailbox:
			s.processTurn(req)
		}
	}
}

// processTurn runs exactly one turn to completion: generate under deadline,
// persist, then emit the turn's lifecycle events. A failure is reported as
// an error event and never corrupts the queue; the next queued request
// proceeds normally.
func (s *Serializer) processTurn(req TurnRequest) {
	start := time.Now()
	turnID := uint64(len(s.state.Turns)) + 1

	s.processing.Store(true)
	defer s.processing.Store(false)
	metrics.IncrCounter("session", "turn_started_total")
	defer metrics.RecordStopwatch("session", "turn_process_time", start)

	genCtx, cancel := context.WithTimeout(s.ctx, s.cfg.TurnDeadline)
	outcome, err := s.engine.GenerateTurn(genCtx, s.state, req.Text)
	cancel()
	if err != nil {
		if s.ctx.Err() != nil {
			// Serializer closed mid-generation; the connection is gone.
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.IncrCounterWithDim("session", "turn_failed_total", metrics.Dimension{"reason": "deadline"})
			s.log.Warn("turn generation deadline exceeded", zap.Uint64("turn_id", turnID))
		} else {
			metrics.IncrCounterWithDim("session", "turn_failed_total", metrics.Dimension{"reason": "engine"})
			s.log.Error("turn generation failed", zap.Uint64("turn_id", turnID), zap.Error(err))
		}
		// Generation failures, deadline included, are transient from the
		// client's point of view; resubmitting the same input is safe.
		s.emitter.TurnError(wire.CodeTurnFailed, "turn generation failed", true)
		return
	}

	record := TurnRecord{
		ID:          turnID,
		Input:       req.Text,
		Output:      outcome.Text(),
		CompletedAt: time.Now(),
	}
	s.state.Turns = append(s.state.Turns, record)

	saveCtx, cancel := context.WithTimeout(s.ctx, s.cfg.TurnDeadline)
	err = s.store.Save(saveCtx, s.state)
	cancel()
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		// Roll the record back so a later retry reuses the turn id.
		s.state.Turns = s.state.Turns[:len(s.state.Turns)-1]
		metrics.IncrCounterWithDim("session", "turn_failed_total", metrics.Dimension{"reason": "persist"})
		s.log.Error("turn persistence failed", zap.Uint64("turn_id", turnID), zap.Error(err))
		s.emitter.TurnError(wire.CodeTurnFailed, "failed to save session state", false)
		return
	}

	s.emitter.TurnStart(turnID)
	for _, chunk := range outcome.Chunks {
		s.emitter.TurnChunk(turnID, chunk)
	}
	s.emitter.TurnEnd(turnID)
	metrics.IncrCounter("session", "turn_completed_total")
}
