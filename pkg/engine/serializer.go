package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// DefaultInitTimeout bounds the wait for "uciok"
const DefaultInitTimeout = 10 * time.Second

// State of the engine behind a serializer
type State int32

const (
	Uninitialized State = iota
	Initializing
	Ready
	Busy
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	default:
		return "unknown"
	}
}

// Request is one discrete best-move computation
type Request struct {
	FEN      string
	Strength Strength
	Depth    int // overrides the strength table's depth when > 0
}

// Callback receives the outcome of a request exactly once
type Callback func(Result, error)

// EvaluationHandler receives the updates of an analysis stream
type EvaluationHandler func(Evaluation)

// Options configures a serializer
type Options struct {
	InitTimeout time.Duration
	Clock       clockwork.Clock
	Table       StrengthTable
	Logger      *zap.Logger
}

// pending is a queued discrete request or analysis stream start
type pending struct {
	id       uint64
	ctx      context.Context
	req      Request
	cb       Callback
	handler  EvaluationHandler // set for analysis streams
	canceled error
	done     bool
	finished chan struct{}
}

// Serializer puts one strictly serial engine in front of any number of
// concurrent callers. Every field below the channels is owned by the loop
// goroutine; the public methods only hand closures to it.
type Serializer struct {
	start  StartFunc
	clock  clockwork.Clock
	table  StrengthTable
	initTO time.Duration
	logger *zap.Logger

	cmds      chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32

	ch           Channel
	lines        <-chan string
	initTimer    clockwork.Timer
	readyWaiters []chan error
	queue        []*pending
	inflight     *pending
	stream       *pending
	stopping     bool // "stop" sent, waiting for the acknowledging bestmove
	nextID       uint64
	lastDelivery chan struct{}
}

// NewSerializer creates a serializer. The engine is started on first use.
func NewSerializer(start StartFunc, opts Options) *Serializer {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	if len(opts.Table.Tiers) == 0 {
		opts.Table = DefaultStrengthTable()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Serializer{
		start:  start,
		clock:  opts.Clock,
		table:  opts.Table,
		initTO: opts.InitTimeout,
		logger: opts.Logger,
		cmds:   make(chan func()),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	go s.loop()

	return s
}

// State returns the current engine state
func (s *Serializer) State() State {
	return State(s.state.Load())
}

// Submit queues a request. cb is always called exactly once, never from
// within Submit. When ctx ends first, cb receives ctx.Err().
func (s *Serializer) Submit(ctx context.Context, req Request, cb Callback) {
	if ctx == nil {
		ctx = context.Background()
	}

	p := &pending{ctx: ctx, req: req, cb: cb, finished: make(chan struct{})}

	if !s.exec(func() { s.enqueue(p) }) {
		go cb(Result{}, ErrClosed)
	}
}

// BestMove submits a request and waits for its result
func (s *Serializer) BestMove(ctx context.Context, req Request) (Result, error) {
	type outcome struct {
		res Result
		err error
	}

	out := make(chan outcome, 1)
	s.Submit(ctx, req, func(res Result, err error) {
		out <- outcome{res, err}
	})

	select {
	case o := <-out:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// WaitReady starts the engine if needed and waits for its handshake
func (s *Serializer) WaitReady(ctx context.Context) error {
	ready := make(chan error, 1)

	ok := s.exec(func() {
		switch s.State() {
		case Ready, Busy:
			ready <- nil
		default:
			s.readyWaiters = append(s.readyWaiters, ready)
			if s.State() == Uninitialized {
				s.initialize()
			}
		}
	})
	if !ok {
		return ErrClosed
	}

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartAnalysis queues an infinite search on fen. Only one stream runs at a
// time; a newer stream or any discrete request stops the running one.
func (s *Serializer) StartAnalysis(fen string, handler EvaluationHandler) (uint64, error) {
	if handler == nil {
		return 0, errors.New("analysis handler is required")
	}

	id := make(chan uint64, 1)
	p := &pending{
		ctx:      context.Background(),
		req:      Request{FEN: fen},
		handler:  handler,
		finished: make(chan struct{}),
	}

	ok := s.exec(func() {
		// a queued stream that never started is superseded
		s.removeQueued(func(q *pending) bool { return q.handler != nil })
		s.enqueue(p)
		id <- p.id
	})
	if !ok {
		return 0, ErrClosed
	}

	return <-id, nil
}

// StopAnalysis stops the stream with the given id, running or queued
func (s *Serializer) StopAnalysis(id uint64) {
	s.exec(func() {
		if s.removeQueued(func(q *pending) bool { return q.id == id && q.handler != nil }) {
			return
		}

		if s.stream != nil && s.stream.id == id {
			s.sendStop()
		}
	})
}

// Close fails every outstanding request with ErrClosed and stops the engine
func (s *Serializer) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done

	return nil
}

func (s *Serializer) exec(fn func()) bool {
	select {
	case s.cmds <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *Serializer) loop() {
	defer close(s.done)

	for {
		var timeout <-chan time.Time
		if s.initTimer != nil {
			timeout = s.initTimer.Chan()
		}

		select {
		case fn := <-s.cmds:
			fn()

		case line, ok := <-s.lines:
			if !ok {
				s.onExit()
				continue
			}
			s.onLine(line)

		case <-timeout:
			s.onInitTimeout()

		case <-s.quit:
			s.shutdown()
			return
		}
	}
}

func (s *Serializer) setState(state State) {
	s.state.Store(int32(state))
}

func (s *Serializer) enqueue(p *pending) {
	s.nextID++
	p.id = s.nextID
	s.queue = append(s.queue, p)

	if p.handler == nil && p.ctx.Done() != nil {
		go s.watch(p)
	}

	s.pump()
}

// watch turns the end of a request's context into a cancellation
func (s *Serializer) watch(p *pending) {
	select {
	case <-p.ctx.Done():
		s.exec(func() { s.cancel(p, p.ctx.Err()) })
	case <-p.finished:
	}
}

func (s *Serializer) cancel(p *pending, err error) {
	if p.done {
		return
	}

	if s.removeQueued(func(q *pending) bool { return q == p }) {
		s.complete(p, Result{}, err)
		return
	}

	if s.inflight == p {
		p.canceled = err
		s.sendStop()
	}
}

// pump dispatches the head of the queue when the engine can take it
func (s *Serializer) pump() {
	for len(s.queue) > 0 && s.inflight == nil && !s.stopping {
		switch s.State() {
		case Uninitialized:
			s.initialize()
			return
		case Initializing:
			return
		}

		if s.stream != nil {
			s.sendStop()
			return
		}

		s.dispatch()
	}
}

func (s *Serializer) dispatch() {
	p := s.queue[0]
	s.queue = s.queue[1:]

	if p.handler != nil {
		if err := s.sendAll(positionCommand(p.req.FEN), "go infinite"); err != nil {
			s.logger.Warn("failed to start analysis", zap.Error(err))
			return
		}

		s.stream = p
		s.setState(Busy)
		return
	}

	settings := s.table.Settings(p.req.Strength)
	// an explicit depth may only lower the tier's bound
	depth := settings.Depth
	if p.req.Depth > 0 && p.req.Depth < depth {
		depth = p.req.Depth
	}

	lines := make([]string, 0, len(settings.Options)+2)
	for _, o := range settings.Options {
		lines = append(lines, fmt.Sprintf("setoption name %s value %s", o.Name, o.Value))
	}
	lines = append(lines, positionCommand(p.req.FEN), fmt.Sprintf("go depth %d", depth))

	if err := s.sendAll(lines...); err != nil {
		s.complete(p, Result{}, fmt.Errorf("%w: %v", ErrEngineExited, err))
		return
	}

	s.inflight = p
	s.setState(Busy)

	s.logger.Debug("request dispatched",
		zap.Uint64("request_id", p.id),
		zap.Int("depth", depth),
		zap.Int("queued", len(s.queue)))
}

func (s *Serializer) initialize() {
	ch, err := s.start()
	if err != nil {
		s.logger.Error("failed to start engine", zap.Error(err))
		s.failAll(fmt.Errorf("%w: %v", ErrResourceUnavailable, err))
		return
	}

	s.ch = ch
	s.lines = ch.Lines()
	s.setState(Initializing)
	s.initTimer = s.clock.NewTimer(s.initTO)

	if err := ch.Send("uci"); err != nil {
		s.logger.Error("failed to send uci", zap.Error(err))
		s.teardown()
		s.failAll(fmt.Errorf("%w: %v", ErrResourceUnavailable, err))
	}
}

func (s *Serializer) onLine(line string) {
	switch {
	case line == "uciok":
		s.onReady()

	case strings.HasPrefix(line, "bestmove"):
		s.onBestMove(line)

	case strings.HasPrefix(line, "info"):
		if s.stream == nil || s.stopping {
			return
		}

		if ev, ok := parseInfo(line); ok {
			handler := s.stream.handler
			s.deliver(func() { handler(ev) })
		}

	default:
		s.logger.Debug("ignoring engine output", zap.String("line", line))
	}
}

func (s *Serializer) onReady() {
	if s.State() != Initializing {
		return
	}

	s.stopInitTimer()
	s.setState(Ready)

	s.logger.Info("engine ready")

	for _, w := range s.readyWaiters {
		w <- nil
	}
	s.readyWaiters = nil

	s.pump()
}

func (s *Serializer) onBestMove(line string) {
	s.stopping = false

	if s.stream != nil {
		// acknowledgement of a stopped stream
		s.stream = nil
		s.setState(Ready)
		s.pump()
		return
	}

	p := s.inflight
	if p == nil {
		s.logger.Warn("bestmove without a request in flight", zap.String("line", line))
		return
	}

	s.inflight = nil
	s.setState(Ready)

	switch {
	case p.canceled != nil:
		s.complete(p, Result{}, p.canceled)
	default:
		res, err := parseBestMove(line)
		if err != nil {
			s.logger.Warn("bad bestmove", zap.String("line", line), zap.Error(err))
		} else {
			res.SAN = sanFor(p.req.FEN, res.Move)
		}
		s.complete(p, res, err)
	}

	s.pump()
}

func (s *Serializer) onInitTimeout() {
	s.initTimer = nil

	s.logger.Error("engine did not become ready", zap.Duration("timeout", s.initTO))

	s.teardown()
	s.failAll(fmt.Errorf("%w: no uciok within %s", ErrResourceUnavailable, s.initTO))
}

func (s *Serializer) onExit() {
	s.logger.Warn("engine exited", zap.String("state", s.State().String()))

	s.teardown()
	s.failAll(ErrEngineExited)
}

func (s *Serializer) shutdown() {
	s.teardown()
	s.failAll(ErrClosed)
}

// teardown drops the engine connection and returns to Uninitialized
func (s *Serializer) teardown() {
	s.stopInitTimer()

	if s.ch != nil {
		if err := s.ch.Close(); err != nil {
			s.logger.Debug("engine close", zap.Error(err))
		}
	}

	s.ch = nil
	s.lines = nil
	s.stream = nil
	s.stopping = false
	s.setState(Uninitialized)
}

// failAll completes the in-flight and queued requests and every readiness
// waiter with err
func (s *Serializer) failAll(err error) {
	if p := s.inflight; p != nil {
		s.inflight = nil
		s.complete(p, Result{}, err)
	}

	queue := s.queue
	s.queue = nil
	for _, p := range queue {
		if p.handler == nil {
			s.complete(p, Result{}, err)
		}
	}

	for _, w := range s.readyWaiters {
		w <- err
	}
	s.readyWaiters = nil
}

func (s *Serializer) complete(p *pending, res Result, err error) {
	if p.done {
		return
	}

	p.done = true
	close(p.finished)

	cb := p.cb
	s.deliver(func() { cb(res, err) })
}

// deliver runs fn off the loop goroutine, after every previously delivered fn
func (s *Serializer) deliver(fn func()) {
	prev := s.lastDelivery
	next := make(chan struct{})
	s.lastDelivery = next

	go func() {
		if prev != nil {
			<-prev
		}
		fn()
		close(next)
	}()
}

func (s *Serializer) removeQueued(match func(*pending) bool) bool {
	for i, q := range s.queue {
		if match(q) {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}

	return false
}

func (s *Serializer) sendStop() {
	if s.stopping || s.ch == nil {
		return
	}

	if err := s.ch.Send("stop"); err != nil {
		s.logger.Warn("failed to send stop", zap.Error(err))
		return
	}

	s.stopping = true
}

func (s *Serializer) sendAll(lines ...string) error {
	for _, line := range lines {
		if err := s.ch.Send(line); err != nil {
			return fmt.Errorf("send %q: %w", line, err)
		}
	}

	return nil
}

func (s *Serializer) stopInitTimer() {
	if s.initTimer != nil {
		s.initTimer.Stop()
		s.initTimer = nil
	}
}
