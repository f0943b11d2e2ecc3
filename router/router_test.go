package router

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgrid/agentgrid/bus"
	"github.com/agentgrid/agentgrid/core"
)

func echoAgent(id string, capabilities ...string) core.Agent {
	return core.NewAgent(id, id, capabilities, map[string]core.HandlerFunc{
		"echo": func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	})
}

func startedRouter(t *testing.T, optFns ...func(o *Options)) *Router {
	t.Helper()

	r := New(optFns...)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)
	return r
}

func TestRegisterValidation(t *testing.T) {
	r := New()

	_, err := r.Register(nil)
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	_, err = r.Register(core.NewAgent("", "nameless", nil, nil))
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	_, err = r.Register(echoAgent("a1"), WithIdempotentMethods("no-such-method"))
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestRegisterDuplicateID(t *testing.T) {
	r := New()

	_, err := r.Register(echoAgent("a1"))
	require.NoError(t, err)

	_, err = r.Register(echoAgent("a1"))
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestSendRoundTrip(t *testing.T) {
	r := startedRouter(t)

	_, err := r.Register(echoAgent("a1", "text"))
	require.NoError(t, err)

	value, err := r.Send(context.Background(), "client", "a1", "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	m := r.Metrics()
	assert.Equal(t, uint64(1), m.TotalMessages)
	assert.Equal(t, uint64(1), m.SuccessfulMessages)
	assert.Equal(t, uint64(0), m.FailedMessages)
}

func TestSendUnknownAgentFailsFast(t *testing.T) {
	r := startedRouter(t)

	_, err := r.Send(context.Background(), "client", "ghost", "echo", nil)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))

	// Rejected before enqueueing: the queue never sees the message.
	assert.Equal(t, 0, r.QueueDepth())
	assert.Equal(t, uint64(0), r.Metrics().TotalMessages)
}

func TestSendUndeclaredMethod(t *testing.T) {
	r := startedRouter(t)

	_, err := r.Register(echoAgent("a1"))
	require.NoError(t, err)

	_, err = r.Send(context.Background(), "client", "a1", "transmogrify", nil)
	assert.Equal(t, core.KindUnsupportedMethod, core.KindOf(err))
}

func TestSendHandlerError(t *testing.T) {
	r := startedRouter(t)

	boom := errors.New("boom")
	agent := core.NewAgent("a1", "a1", nil, map[string]core.HandlerFunc{
		"explode": func(_ context.Context, _ map[string]any) (any, error) {
			return nil, boom
		},
	})
	_, err := r.Register(agent)
	require.NoError(t, err)

	_, err = r.Send(context.Background(), "client", "a1", "explode", nil)
	require.Error(t, err)
	assert.Equal(t, core.KindExecution, core.KindOf(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), r.Metrics().FailedMessages)
}

func TestSendTimeout(t *testing.T) {
	r := startedRouter(t)

	agent := core.NewAgent("slow", "slow", nil, map[string]core.HandlerFunc{
		"stall": func(ctx context.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	_, err := r.Register(agent)
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Send(context.Background(), "client", "slow", "stall", nil, WithTimeout(50*time.Millisecond))
	assert.Equal(t, core.KindTimeout, core.KindOf(err))
	assert.True(t, core.IsRetryable(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSendContextCancelled(t *testing.T) {
	r := startedRouter(t)

	agent := core.NewAgent("slow", "slow", nil, map[string]core.HandlerFunc{
		"stall": func(ctx context.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	_, err := r.Register(agent)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = r.Send(ctx, "client", "slow", "stall", nil)
	assert.Equal(t, core.KindCancelled, core.KindOf(err))
}

func TestSendRequiresStartedRouter(t *testing.T) {
	r := New()

	_, err := r.Register(echoAgent("a1"))
	require.NoError(t, err)

	_, err = r.Send(context.Background(), "client", "a1", "echo", nil)
	assert.Equal(t, core.KindUnavailable, core.KindOf(err))
}

func TestIdempotentResponseCache(t *testing.T) {
	r := startedRouter(t)

	var calls atomic.Int64
	agent := core.NewAgent("a1", "a1", nil, map[string]core.HandlerFunc{
		"status": func(_ context.Context, _ map[string]any) (any, error) {
			calls.Add(1)
			return "ok", nil
		},
	})
	_, err := r.Register(agent, WithIdempotentMethods("status"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		value, err := r.Send(context.Background(), "client", "a1", "status", map[string]any{"v": 1})
		require.NoError(t, err)
		assert.Equal(t, "ok", value)
	}
	assert.Equal(t, int64(1), calls.Load(), "repeated idempotent calls should be served from cache")

	// Different arguments miss the cache.
	_, err = r.Send(context.Background(), "client", "a1", "status", map[string]any{"v": 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())

	// An explicit bypass always reaches the handler.
	_, err = r.Send(context.Background(), "client", "a1", "status", map[string]any{"v": 2}, WithoutCache())
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
}

func TestNonIdempotentMethodsNeverCached(t *testing.T) {
	r := startedRouter(t)

	var calls atomic.Int64
	agent := core.NewAgent("a1", "a1", nil, map[string]core.HandlerFunc{
		"mutate": func(_ context.Context, _ map[string]any) (any, error) {
			return calls.Add(1), nil
		},
	})
	_, err := r.Register(agent)
	require.NoError(t, err)

	first, err := r.Send(context.Background(), "client", "a1", "mutate", nil)
	require.NoError(t, err)
	second, err := r.Send(context.Background(), "client", "a1", "mutate", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestFindOptimalAgentPrefersLowestLoad(t *testing.T) {
	r := New()

	_, err := r.Register(echoAgent("a", "analysis"))
	require.NoError(t, err)
	_, err = r.Register(echoAgent("b", "analysis"))
	require.NoError(t, err)

	r.mu.Lock()
	r.agents["a"].LoadScore = 0
	r.agents["b"].LoadScore = 2
	r.mu.Unlock()

	id, ok := r.FindOptimalAgent([]string{"analysis"})
	require.True(t, ok)
	assert.Equal(t, "a", id)
}

func TestFindOptimalAgentTieBreaksByRegistrationOrder(t *testing.T) {
	r := New()

	_, err := r.Register(echoAgent("first", "analysis"))
	require.NoError(t, err)
	_, err = r.Register(echoAgent("second", "analysis"))
	require.NoError(t, err)

	id, ok := r.FindOptimalAgent([]string{"analysis"})
	require.True(t, ok)
	assert.Equal(t, "first", id)
}

func TestFindOptimalAgentFiltersByCapabilityAndStatus(t *testing.T) {
	r := New()

	_, err := r.Register(echoAgent("a", "analysis"))
	require.NoError(t, err)
	_, err = r.Register(echoAgent("b", "analysis", "reporting"))
	require.NoError(t, err)

	_, ok := r.FindOptimalAgent([]string{"synthesis"})
	assert.False(t, ok)

	id, ok := r.FindOptimalAgent([]string{"analysis", "reporting"})
	require.True(t, ok)
	assert.Equal(t, "b", id)

	require.NoError(t, r.SetAgentStatus("b", core.StatusInactive))
	_, ok = r.FindOptimalAgent([]string{"analysis", "reporting"})
	assert.False(t, ok)

	// Exclusions drop otherwise eligible agents.
	_, ok = r.FindOptimalAgent([]string{"analysis"}, "a", "b")
	assert.False(t, ok)
}

func TestHeartbeatSweepMarksStaleAgentsInactive(t *testing.T) {
	b := bus.New()
	defer b.Close()

	var timedOut atomic.Int64
	b.Subscribe("router.agent.timeout", func(bus.Event) error {
		timedOut.Add(1)
		return nil
	})

	r := startedRouter(t, func(o *Options) {
		o.Bus = b
		o.HeartbeatTimeout = 10 * time.Millisecond
	})

	_, err := r.Register(echoAgent("a1"))
	require.NoError(t, err)

	r.mu.Lock()
	r.agents["a1"].LastHeartbeat = time.Now().Add(-time.Minute)
	r.mu.Unlock()

	r.sweep()

	reg, err := r.AgentStatus("a1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusInactive, reg.Status)
	assert.Equal(t, int64(1), timedOut.Load())

	// Inactive agents are unroutable until a heartbeat restores them.
	_, err = r.Send(context.Background(), "client", "a1", "echo", nil)
	assert.Equal(t, core.KindUnavailable, core.KindOf(err))

	require.NoError(t, r.Heartbeat("a1"))
	reg, err = r.AgentStatus("a1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, reg.Status)

	_, err = r.Send(context.Background(), "client", "a1", "echo", map[string]any{"text": "back"})
	assert.NoError(t, err)
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	r := New()
	assert.Equal(t, core.KindNotFound, core.KindOf(r.Heartbeat("ghost")))
}

func TestBroadcastCollectsPerAgentResults(t *testing.T) {
	r := startedRouter(t)

	_, err := r.Register(echoAgent("a1"))
	require.NoError(t, err)
	_, err = r.Register(echoAgent("a2"))
	require.NoError(t, err)

	failing := core.NewAgent("a3", "a3", nil, map[string]core.HandlerFunc{
		"echo": func(_ context.Context, _ map[string]any) (any, error) {
			return nil, errors.New("broken")
		},
	})
	_, err = r.Register(failing)
	require.NoError(t, err)

	results := r.Broadcast(context.Background(), "a1", "echo", map[string]any{"text": "hi"}, nil)

	require.Len(t, results, 2, "sender is excluded from its own broadcast")
	assert.NoError(t, results["a2"].Err)
	assert.Equal(t, "hi", results["a2"].Value)
	assert.Error(t, results["a3"].Err)
}

func TestBroadcastFilter(t *testing.T) {
	r := startedRouter(t)

	_, err := r.Register(echoAgent("a1", "analysis"))
	require.NoError(t, err)
	_, err = r.Register(echoAgent("a2", "reporting"))
	require.NoError(t, err)

	results := r.Broadcast(context.Background(), "client", "echo", map[string]any{"text": "hi"},
		func(reg Registration) bool {
			return coversCapabilities(reg.Capabilities, []string{"reporting"})
		})

	require.Len(t, results, 1)
	assert.Contains(t, results, "a2")
}

func TestLoadScoreSettlesAfterDispatch(t *testing.T) {
	r := startedRouter(t)

	release := make(chan struct{})
	agent := core.NewAgent("a1", "a1", nil, map[string]core.HandlerFunc{
		"hold": func(_ context.Context, _ map[string]any) (any, error) {
			<-release
			return "done", nil
		},
	})
	_, err := r.Register(agent)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, sendErr := r.Send(context.Background(), "client", "a1", "hold", nil)
		assert.NoError(t, sendErr)
	}()

	require.Eventually(t, func() bool {
		reg, regErr := r.AgentStatus("a1")
		return regErr == nil && reg.Status == core.StatusBusy && reg.LoadScore == 1
	}, time.Second, 5*time.Millisecond)

	close(release)
	<-done

	reg, err := r.AgentStatus("a1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusActive, reg.Status)
	assert.Equal(t, 0, reg.LoadScore)
}

func TestQueueCapacityRejectsOverflow(t *testing.T) {
	q := newMessageQueue(1)

	first := &queuedMessage{msg: NewMessage("x", "y", "m", nil)}
	require.NoError(t, q.push(first))

	err := q.push(&queuedMessage{msg: NewMessage("x", "y", "m", nil)})
	assert.Equal(t, core.KindQueueFull, core.KindOf(err))
	assert.True(t, core.IsRetryable(err))
}

func TestQueueOrdersByPriorityThenFIFO(t *testing.T) {
	q := newMessageQueue(0)

	push := func(id string, p Priority) {
		msg := NewMessage("x", "y", "m", nil)
		msg.ID = id
		msg.Priority = p
		require.NoError(t, q.push(&queuedMessage{msg: msg}))
	}

	push("low", PriorityLow)
	push("urgent", PriorityUrgent)
	push("normal-1", PriorityNormal)
	push("normal-2", PriorityNormal)
	push("high", PriorityHigh)

	var got []string
	for {
		item, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, item.msg.ID)
	}
	assert.Equal(t, []string{"urgent", "high", "normal-1", "normal-2", "low"}, got)
}

func TestUnregisterStopsRouting(t *testing.T) {
	r := startedRouter(t)

	_, err := r.Register(echoAgent("a1"))
	require.NoError(t, err)

	assert.True(t, r.Unregister("a1"))
	assert.False(t, r.Unregister("a1"))

	_, err = r.Send(context.Background(), "client", "a1", "echo", nil)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestListAgentsInRegistrationOrder(t *testing.T) {
	r := New()

	for _, id := range []string{"c", "a", "b"} {
		_, err := r.Register(echoAgent(id))
		require.NoError(t, err)
	}

	agents := r.ListAgents()
	require.Len(t, agents, 3)
	assert.Equal(t, "c", agents[0].ID)
	assert.Equal(t, "a", agents[1].ID)
	assert.Equal(t, "b", agents[2].ID)
}

func TestRouterAnnouncesDispatchOnBus(t *testing.T) {
	b := bus.New()
	defer b.Close()

	var completed atomic.Int64
	b.Subscribe("router.message.completed", func(bus.Event) error {
		completed.Add(1)
		return nil
	})

	r := startedRouter(t, func(o *Options) { o.Bus = b })

	_, err := r.Register(echoAgent("a1"))
	require.NoError(t, err)

	_, err = r.Send(context.Background(), "client", "a1", "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), completed.Load())
}
