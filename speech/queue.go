package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var ErrQueueClosed = errors.New("speech queue is closed")

// Queue feeds utterances to an Engine one at a time in submission order.
// A single goroutine owns both the pending list and the speaking flag;
// engine completions are reported back to it over a channel.
type Queue struct {
	engine  Engine
	voice   Voice
	logger  *slog.Logger
	submit  chan Utterance
	done    chan result
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
	ctx     context.Context
	cancel  context.CancelFunc
	// mirrors of the owner state for status display
	speaking atomic.Bool
	pending  atomic.Int32
	// OnSpoken is called after each utterance ends and before the next one
	// starts. It runs outside the owner goroutine and may call Speak.
	OnSpoken func(u Utterance, err error)
}

type result struct {
	u   Utterance
	err error
}

// NewQueue resolves voice among the engine voices, falling back to the first
// one, and starts the owner goroutine.
func NewQueue(ctx context.Context, engine Engine, voice string, logger *slog.Logger) *Queue {
	qctx, cancel := context.WithCancel(ctx)
	chosen, ok := SelectVoice(engine.Voices(), voice)
	switch {
	case !ok:
		logger.Warn("speech engine offers no voices", "requested", voice)
	case voice != "" && chosen.Name != voice:
		logger.Warn("voice not found, using default", "requested", voice, "voice", chosen.Name)
	}
	q := &Queue{
		engine:  engine,
		voice:   chosen,
		logger:  logger,
		submit:  make(chan Utterance),
		done:    make(chan result, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		ctx:     qctx,
		cancel:  cancel,
	}
	go q.run()
	return q
}

// Speak submits text for synthesis. It returns once the owner has accepted
// the utterance, not when it has been spoken.
func (q *Queue) Speak(text, lang string) error {
	if lang == "" {
		lang = q.voice.Lang
	}
	u := Utterance{ID: uuid.NewString(), Text: text, Lang: lang, Voice: q.voice.Name}
	select {
	case q.submit <- u:
		return nil
	case <-q.stopped:
		return ErrQueueClosed
	}
}

// Voice is the voice every utterance is spoken with.
func (q *Queue) Voice() Voice {
	return q.voice
}

func (q *Queue) Speaking() bool {
	return q.speaking.Load()
}

func (q *Queue) Pending() int {
	return int(q.pending.Load())
}

// Close stops the engine and drops everything still pending.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.quit)
		q.cancel()
		q.engine.Stop()
	})
	<-q.stopped
}

func (q *Queue) run() {
	defer close(q.stopped)
	var pending []Utterance
	speaking := false
	for {
		select {
		case <-q.quit:
			if len(pending) > 0 {
				q.logger.Debug("speech queue closed with pending utterances", "dropped", len(pending))
			}
			return
		case <-q.ctx.Done():
			return
		case u := <-q.submit:
			if !speaking {
				speaking = true
				q.start(u)
				break
			}
			pending = append(pending, u)
		case r := <-q.done:
			speaking = false
			if r.err != nil {
				q.logger.Error("speech synthesis failed", "id", r.u.ID, "text", r.u.Text, "error", r.err)
			}
			if q.ctx.Err() != nil {
				return
			}
			if len(pending) > 0 {
				next := pending[0]
				pending = pending[1:]
				speaking = true
				q.start(next)
			}
		}
		q.speaking.Store(speaking)
		q.pending.Store(int32(len(pending)))
	}
}

func (q *Queue) start(u Utterance) {
	q.speaking.Store(true)
	go func() {
		err := q.engine.Speak(q.ctx, u)
		if q.OnSpoken != nil {
			q.OnSpoken(u, err)
		}
		q.done <- result{u: u, err: err}
	}()
}
