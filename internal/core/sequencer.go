package core

import (
	"context"
	"errors"
	"fmt"

	"SynthLedger/internal/event"

	"github.com/rs/zerolog"
)

var ErrSequencerStopped = errors.New("synth engine: sequencer stopped")

type request struct {
	cmd   event.Event
	view  func(*Engine) error
	reply chan result
}

type result struct {
	output *CoreOutput
	err    error
}

// Sequencer owns the Engine and runs every command and read on a single
// goroutine, so the engine never needs locks. Token callbacks run on that
// goroutine too and must call the Engine directly, never Submit.
type Sequencer struct {
	engine   *Engine
	requests chan request
	done     chan struct{}
	logger   zerolog.Logger
}

func NewSequencer(engine *Engine, queueSize int, logger zerolog.Logger) *Sequencer {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Sequencer{
		engine:   engine,
		requests: make(chan request, queueSize),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Run processes requests until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context) error {
	defer close(s.done)
	s.logger.Info().Int64("sequence", s.engine.GetSequence()).Msg("sequencer started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Int64("sequence", s.engine.GetSequence()).Msg("sequencer stopped")
			return nil
		case req := <-s.requests:
			req.reply <- s.handle(req)
		}
	}
}

func (s *Sequencer) handle(req request) (res result) {
	defer func() {
		// A FATAL panic means the ledger can no longer be trusted.
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("engine panic")
			panic(r)
		}
	}()
	if req.view != nil {
		return result{err: req.view(s.engine)}
	}
	out, err := s.engine.Execute(req.cmd)
	return result{output: out, err: err}
}

// Submit applies cmd and waits for the outcome. A duplicate command
// returns (nil, nil).
func (s *Sequencer) Submit(ctx context.Context, cmd event.Event) (*CoreOutput, error) {
	return s.do(ctx, request{cmd: cmd})
}

// View runs fn against the engine between commands. fn must not mutate.
func (s *Sequencer) View(ctx context.Context, fn func(*Engine) error) error {
	_, err := s.do(ctx, request{view: fn})
	return err
}

func (s *Sequencer) do(ctx context.Context, req request) (*CoreOutput, error) {
	req.reply = make(chan result, 1)
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrSequencerStopped
	}
	select {
	case res := <-req.reply:
		return res.output, res.err
	case <-ctx.Done():
		// The request may still be applied; callers retry with the same
		// request id and idempotency absorbs the repeat.
		return nil, fmt.Errorf("awaiting sequencer: %w", ctx.Err())
	case <-s.done:
		return nil, ErrSequencerStopped
	}
}
