package server

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"uno-server/internal/uno"
)

// Command mutates the match. It runs on the room goroutine and must not block.
// A non-nil error means the match was left untouched.
type Command func(m *uno.Match) error

type commandResult struct {
	snapshot *uno.Match
	err      error
}

type commandRequest struct {
	apply Command
	reply chan commandResult
}

type RoomConfig struct {
	IdleTimeout time.Duration
	// NewBackOff builds the retry policy for one persistence write.
	NewBackOff func() backoff.BackOff
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = time.Minute
	return b
}

// Room serializes every command for one match on a single goroutine and fans
// the resulting snapshots out to its observers and its store.
type Room struct {
	id     string
	match  *uno.Match
	store  SnapshotStore
	cfg    RoomConfig
	logger *zap.Logger

	commands    chan commandRequest
	subscribe   chan *Observer
	unsubscribe chan *Observer
	quit        chan struct{}
	done        chan struct{}
	flushed     chan struct{}
	stopOnce    sync.Once

	observers map[*Observer]struct{}
	persist   chan *uno.Match
	onClose   func(*Room)
}

// Observer receives match snapshots in version order. Its channel holds one
// snapshot, so delivery is not one-per-command: a reader that falls behind gets
// only the newest state, skipping intermediate versions, but never goes
// backwards. Every snapshot is complete, so nothing a skipped one held is lost.
type Observer struct {
	room    *Room
	updates chan *uno.Match
}

func (o *Observer) Updates() <-chan *uno.Match {
	return o.updates
}

// Close detaches the observer. The updates channel is closed once the room
// lets go of it.
func (o *Observer) Close() {
	select {
	case o.room.unsubscribe <- o:
	case <-o.room.done:
	}
}

func newRoom(m *uno.Match, store SnapshotStore, cfg RoomConfig, logger *zap.Logger, onClose func(*Room)) *Room {
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = defaultBackOff
	}
	return &Room{
		id:          m.RoomID,
		match:       m,
		store:       store,
		cfg:         cfg,
		logger:      logger.With(zap.String("room", m.RoomID)),
		commands:    make(chan commandRequest),
		subscribe:   make(chan *Observer),
		unsubscribe: make(chan *Observer),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		flushed:     make(chan struct{}),
		observers:   make(map[*Observer]struct{}),
		persist:     make(chan *uno.Match, 1),
		onClose:     onClose,
	}
}

func (r *Room) ID() string {
	return r.id
}

// Done is closed once the room stops accepting commands.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// Submit queues cmd behind every command submitted before it and waits for the
// outcome. Accepted commands return the new snapshot. Once queued, a command
// runs to completion even if ctx is cancelled.
func (r *Room) Submit(ctx context.Context, cmd Command) (*uno.Match, error) {
	req := commandRequest{apply: cmd, reply: make(chan commandResult, 1)}

	select {
	case r.commands <- req:
	case <-r.done:
		return nil, uno.ErrRoomNotFound
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.snapshot, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot reads the current match through the command queue.
func (r *Room) Snapshot(ctx context.Context) (*uno.Match, error) {
	return r.Submit(ctx, func(*uno.Match) error { return nil })
}

// Subscribe registers an observer. The current snapshot is delivered at once.
func (r *Room) Subscribe(ctx context.Context) (*Observer, error) {
	o := &Observer{room: r, updates: make(chan *uno.Match, 1)}

	select {
	case r.subscribe <- o:
		return o, nil
	case <-r.done:
		return nil, uno.ErrRoomNotFound
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop asks the room to finish its current command and shut down, then waits
// for the last snapshot to reach the store.
func (r *Room) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.quit) })

	select {
	case <-r.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start launches the room. A fresh room may be reusing the code of an idle or
// finished room, so the writer clears what is stored under the code before it
// writes the opening state and whole log.
func (r *Room) start(fresh bool) {
	lastSeq := r.match.LogSeq
	if fresh {
		lastSeq = 0
		r.persist <- r.match.Snapshot()
	}
	go r.writer(lastSeq, fresh)
	go r.run()
}

func (r *Room) run() {
	defer r.teardown()

	var idle <-chan time.Time
	var idleTimer *time.Timer
	armIdle := func() {
		if r.cfg.IdleTimeout <= 0 {
			return
		}
		idleTimer = time.NewTimer(r.cfg.IdleTimeout)
		idle = idleTimer.C
	}
	disarmIdle := func() {
		if idleTimer != nil {
			idleTimer.Stop()
		}
		idleTimer, idle = nil, nil
	}
	defer disarmIdle()

	armIdle()
	for {
		select {
		case req := <-r.commands:
			r.execute(req)

		case o := <-r.subscribe:
			r.observers[o] = struct{}{}
			offer(o.updates, r.match.Snapshot())
			disarmIdle()
			r.logger.Debug("observer attached", zap.Int("observers", len(r.observers)))

		case o := <-r.unsubscribe:
			if _, ok := r.observers[o]; !ok {
				continue
			}
			delete(r.observers, o)
			close(o.updates)
			r.logger.Debug("observer detached", zap.Int("observers", len(r.observers)))
			if len(r.observers) == 0 {
				armIdle()
			}

		case <-idle:
			r.logger.Info("room idle, shutting down", zap.Duration("idle", r.cfg.IdleTimeout))
			return

		case <-r.quit:
			r.logger.Info("room stopping")
			return
		}
	}
}

func (r *Room) execute(req commandRequest) {
	before := r.match.Version

	if err := req.apply(r.match); err != nil {
		req.reply <- commandResult{err: err}
		return
	}

	snapshot := r.match.Snapshot()
	req.reply <- commandResult{snapshot: snapshot}

	if snapshot.Version == before {
		return
	}

	r.logger.Debug("match updated",
		zap.Int64("version", snapshot.Version),
		zap.String("status", string(snapshot.Status)))

	for o := range r.observers {
		offer(o.updates, snapshot)
	}
	offer(r.persist, snapshot)
}

func (r *Room) teardown() {
	close(r.done)
	for o := range r.observers {
		close(o.updates)
	}
	r.observers = nil
	close(r.persist)
	if r.onClose != nil {
		r.onClose(r)
	}
}

// writer persists snapshots in the background. Only the newest pending
// snapshot is written; intermediate ones are superseded.
func (r *Room) writer(lastSeq int64, reset bool) {
	defer close(r.flushed)

	for snapshot := range r.persist {
		if r.store == nil {
			continue
		}

		ctx := context.Background()
		save := func() error {
			// Why: a stored match under this code has its own versions and log
			// seqs, and would shadow every write of ours.
			if reset {
				if err := r.store.DeleteSnapshot(ctx, r.id); err != nil {
					return err
				}
				reset = false
			}
			if err := r.store.AppendEvents(ctx, snapshot.RoomID, snapshot.LogSince(lastSeq)); err != nil {
				return err
			}
			return r.store.SaveSnapshot(ctx, snapshot)
		}
		notify := func(err error, wait time.Duration) {
			r.logger.Warn("persisting match failed, retrying",
				zap.Int64("version", snapshot.Version),
				zap.Duration("retry_in", wait),
				zap.Error(err))
		}

		if err := backoff.RetryNotify(save, r.cfg.NewBackOff(), notify); err != nil {
			r.logger.Error("giving up on persisting match",
				zap.Int64("version", snapshot.Version),
				zap.Error(err))
			continue
		}
		lastSeq = snapshot.LogSeq
	}
}

// offer puts m into a one-slot channel, replacing whatever is waiting there.
// Only the room goroutine sends, so the loop settles after at most one drain.
func offer(ch chan *uno.Match, m *uno.Match) {
	for {
		select {
		case ch <- m:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
