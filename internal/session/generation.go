package session

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/ollamachat/internal/chat"
	"github.com/comigor/ollamachat/internal/history"
	"github.com/comigor/ollamachat/internal/llm"
	"github.com/comigor/ollamachat/internal/logger"
	"github.com/comigor/ollamachat/internal/metrics"
)

// Generation states
type GenState stateless.State

var (
	StateGenerating GenState = "Generating"
	StateFinalizing GenState = "Finalizing"
	StateCancelling GenState = "Cancelling"
	StateFailing    GenState = "Failing"
	StateIdle       GenState = "Idle"
)

// Generation triggers
type GenTrigger stateless.Trigger

var (
	TriggerDelta      GenTrigger = "Delta"
	TriggerStreamDone GenTrigger = "StreamDone"
	TriggerCancel     GenTrigger = "Cancel"
	TriggerFail       GenTrigger = "Fail"
	TriggerSettled    GenTrigger = "Settled"
)

// generation is one turn in flight. Its state machine only fires from the
// goroutine running Send.
type generation struct {
	c        *Coordinator
	user     chat.Message
	model    string
	settings Settings
	groupID  string
	started  time.Time

	cancel          context.CancelFunc
	cancelRequested atomic.Bool
	done            chan struct{}

	fsm     *stateless.StateMachine
	outcome string
	result  chat.Message
	err     error
	final   Event
}

func newGeneration(c *Coordinator, user chat.Message, model string, settings Settings, groupID string, cancel context.CancelFunc) *generation {
	g := &generation{
		c:        c,
		user:     user,
		model:    model,
		settings: settings,
		groupID:  groupID,
		started:  c.now(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	fsm := stateless.NewStateMachine(StateGenerating)

	fsm.Configure(StateGenerating).
		InternalTransition(TriggerDelta, func(ctx context.Context, args ...any) error {
			g.applyDelta(args[0].(string))
			return nil
		}).
		Permit(TriggerStreamDone, StateFinalizing).
		Permit(TriggerCancel, StateCancelling).
		Permit(TriggerFail, StateFailing)

	fsm.Configure(StateFinalizing).
		OnEntry(func(ctx context.Context, args ...any) error {
			g.finalize(ctx)
			return nil
		}).
		Permit(TriggerSettled, StateIdle)

	fsm.Configure(StateCancelling).
		OnEntry(func(ctx context.Context, args ...any) error {
			g.cancelled(ctx)
			return nil
		}).
		Permit(TriggerSettled, StateIdle)

	fsm.Configure(StateFailing).
		OnEntry(func(ctx context.Context, args ...any) error {
			var cause error
			if len(args) > 0 {
				cause, _ = args[0].(error)
			}
			g.failed(ctx, cause)
			return nil
		}).
		Permit(TriggerSettled, StateIdle)

	fsm.Configure(StateIdle).
		OnEntry(func(ctx context.Context, args ...any) error {
			g.settle()
			return nil
		})

	g.fsm = fsm
	return g
}

func (g *generation) fire(ctx context.Context, trigger GenTrigger, args ...any) {
	if err := g.fsm.FireCtx(ctx, trigger, args...); err != nil {
		logger.L.Warn("FSM fire error", "trigger", trigger, "error", err)
	}
}

func (g *generation) run(ctx context.Context, prior []chat.Message) (chat.Message, error) {
	defer close(g.done)
	// Terminal branches persist even after ctx was cancelled.
	fireCtx := context.WithoutCancel(ctx)

	req := llm.ChatRequest{
		Model:       g.model,
		Messages:    chat.BuildPrompt(prior, g.user.Content, g.user.Image, g.settings.Instruction),
		Temperature: g.settings.Temperature,
		TopP:        g.settings.TopP,
		TopK:        g.settings.TopK,
	}

	stream, err := g.c.client.ChatStream(ctx, req)
	if err != nil {
		g.fire(fireCtx, g.terminal(ctx), err)
	} else {
		for {
			delta, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				g.fire(fireCtx, TriggerStreamDone)
				break
			}
			if err != nil {
				g.fire(fireCtx, g.terminal(ctx), err)
				break
			}
			g.fire(fireCtx, TriggerDelta, delta)
		}
		if cerr := stream.Close(); cerr != nil {
			logger.L.Debug("stream close", "error", cerr)
		}
	}

	g.fire(fireCtx, TriggerSettled)
	return g.result, g.err
}

// terminal picks the branch for an interrupted stream.
func (g *generation) terminal(ctx context.Context) GenTrigger {
	if g.cancelRequested.Load() || errors.Is(ctx.Err(), context.Canceled) {
		return TriggerCancel
	}
	return TriggerFail
}

func (g *generation) applyDelta(delta string) {
	c := g.c
	c.mu.Lock()
	c.live += delta
	text := c.live
	c.mu.Unlock()
	c.obs.publish(Event{Kind: EventDelta, Text: text})
}

// takeBuffer clears the live buffer and, when it held text, appends an
// assistant message built from it.
func (g *generation) takeBuffer(build func(string) string) (chat.Message, bool) {
	c := g.c
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.live
	c.live = ""
	if buf == "" {
		return chat.Message{}, false
	}
	msg := chat.NewAssistantMessage(build(buf))
	c.messages = append(c.messages, msg)
	return msg, true
}

func (g *generation) finalize(ctx context.Context) {
	g.outcome = metrics.OutcomeFinalized
	elapsed := g.c.now().Sub(g.started)
	msg, ok := g.takeBuffer(func(buf string) string {
		return AppendFooter(buf, g.model, elapsed)
	})
	if !ok {
		logger.L.Warn("generation finished without content", "model", g.model)
		g.final = Event{Kind: EventFinalized}
		return
	}
	if persisted, err := g.persist(ctx, msg); err != nil {
		logger.L.Error("failed to save turn", "group", g.groupID, "error", err)
		g.c.mu.Lock()
		g.c.lastErr = err
		g.c.mu.Unlock()
	} else {
		msg = persisted
	}
	g.result = msg
	g.final = Event{Kind: EventFinalized, Text: msg.Content, Message: &msg}
}

func (g *generation) cancelled(ctx context.Context) {
	g.outcome = metrics.OutcomeCancelled
	g.err = ErrCancelled
	msg, ok := g.takeBuffer(func(buf string) string {
		return buf + "\n" + CancelledMarker
	})
	if !ok {
		g.final = Event{Kind: EventCancelled, Err: ErrCancelled}
		return
	}
	if persisted, err := g.persist(ctx, msg); err != nil {
		logger.L.Warn("failed to save cancelled turn", "group", g.groupID, "error", err)
	} else {
		msg = persisted
	}
	g.result = msg
	g.final = Event{Kind: EventCancelled, Text: msg.Content, Message: &msg, Err: ErrCancelled}
}

func (g *generation) failed(ctx context.Context, cause error) {
	if cause == nil {
		cause = errors.New("session: generation failed")
	}
	g.outcome = metrics.OutcomeFailed
	g.err = cause
	logger.L.Error("generation failed", "model", g.model, "error", cause)

	g.c.mu.Lock()
	g.c.lastErr = cause
	g.c.mu.Unlock()

	msg, ok := g.takeBuffer(func(buf string) string {
		return buf + "\n" + ErrorMarker
	})
	if !ok {
		g.final = Event{Kind: EventError, Err: cause}
		return
	}
	if persisted, err := g.persist(ctx, msg); err != nil {
		logger.L.Warn("failed to save errored turn", "group", g.groupID, "error", err)
	} else {
		msg = persisted
	}
	g.result = msg
	g.final = Event{Kind: EventError, Text: msg.Content, Message: &msg, Err: cause}
}

// persist stores the turn and links both halves to its row id.
func (g *generation) persist(ctx context.Context, answer chat.Message) (chat.Message, error) {
	nt := history.NewTurn{
		GroupID:  g.groupID,
		Question: g.user.Content,
		Answer:   answer.Content,
		Engine:   g.model,
	}
	if g.settings.BaseURL != "" {
		u := g.settings.BaseURL
		nt.BaseURL = &u
	}
	if len(g.user.Image) > 0 {
		if b64, err := chat.EncodeImage(g.user.Image); err != nil {
			logger.L.Warn("image not saved", "error", err)
		} else {
			nt.Image = &b64
		}
	}

	turn, err := g.c.store.InsertTurn(ctx, nt)
	if err != nil {
		return answer, err
	}

	c := g.c
	c.mu.Lock()
	for i := range c.messages {
		if c.messages[i].ID == g.user.ID || c.messages[i].ID == answer.ID {
			c.messages[i].TurnID = turn.ID
		}
	}
	c.mu.Unlock()
	answer.TurnID = turn.ID
	return answer, nil
}

func (g *generation) settle() {
	c := g.c
	c.mu.Lock()
	c.live = ""
	c.generating = false
	if c.cur == g {
		c.cur = nil
	}
	c.mu.Unlock()

	metrics.Generations.WithLabelValues(g.outcome, g.model).Inc()
	metrics.GenerationDuration.WithLabelValues(g.outcome).Observe(c.now().Sub(g.started).Seconds())
	logger.L.Debug("generation settled", "outcome", g.outcome, "model", g.model)

	c.obs.publish(g.final)
}
