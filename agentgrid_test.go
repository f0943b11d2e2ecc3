package agentgrid

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgrid/agentgrid/bus"
	"github.com/agentgrid/agentgrid/core"
	"github.com/agentgrid/agentgrid/internal/testutil"
	"github.com/agentgrid/agentgrid/workflow"
)

func startedOrchestrator(t *testing.T, optFns ...func(o *Options)) *Orchestrator {
	t.Helper()

	o := New(optFns...)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(o.Stop)
	return o
}

func TestOrchestratorSendRoundTrip(t *testing.T) {
	o := startedOrchestrator(t)

	agent := core.NewAgent("echo", "echo", []string{"text"}, map[string]core.HandlerFunc{
		"echo": func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	})
	_, err := o.RegisterAgent(agent)
	require.NoError(t, err)

	value, err := o.Send(context.Background(), "client", "echo", "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", value)
}

func TestOrchestratorDoubleStart(t *testing.T) {
	o := startedOrchestrator(t)
	assert.Equal(t, core.KindValidation, core.KindOf(o.Start(context.Background())))
}

func TestOrchestratorWorkflowEndToEnd(t *testing.T) {
	o := startedOrchestrator(t)

	register := func(id string, result any) {
		_, err := o.RegisterAgent(testutil.NewAgentBuilder(id).Capability(id).Returns("run", result).Build())
		require.NoError(t, err)
	}
	register("collector", "raw data")
	register("analyzer", "insights")
	register("reporter", "final report")

	recorder := testutil.NewEventRecorder()
	o.Subscribe("workflow.step.completed", recorder.Handler)

	def := testutil.NewDefinitionBuilder("report-pipeline").
		Step("collect", "collector", "run").
		CapabilityStep("analyze", []string{"analyzer"}, "run", "collect").
		Step("report", "reporter", "run", "analyze").
		Build()

	id, err := o.SubmitWorkflow(context.Background(), def)
	require.NoError(t, err)

	wf, err := o.WaitWorkflow(context.Background(), id, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, wf.Status)
	assert.Equal(t, 3, recorder.Count())

	result, ok := wf.StepResult("report")
	require.True(t, ok)
	assert.Equal(t, "final report", result)

	status, err := o.WorkflowStatus(id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, status.Status)
}

func TestOrchestratorHealth(t *testing.T) {
	o := New()
	assert.False(t, o.Health().Started)

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	agent := core.NewAgent("a1", "a1", nil, map[string]core.HandlerFunc{
		"noop": func(_ context.Context, _ map[string]any) (any, error) { return nil, nil },
	})
	_, err := o.RegisterAgent(agent)
	require.NoError(t, err)

	h := o.Health()
	assert.True(t, h.Started)
	assert.Equal(t, 1, h.Agents.Total)
	assert.Equal(t, 1, h.Agents.Active)
	assert.Equal(t, 0, h.Agents.Busy)
	assert.Equal(t, 0, h.Agents.Offline)
	assert.Equal(t, 0, h.PendingEvents)
	assert.Equal(t, 0, h.ActiveWorkflows)
	assert.Equal(t, float64(0), h.AverageLoad)
}

func TestOrchestratorBusSubscription(t *testing.T) {
	o := startedOrchestrator(t)

	received := make(chan any, 1)
	o.Subscribe("custom.event", func(ev bus.Event) error {
		received <- ev.Payload
		return nil
	})

	require.NoError(t, o.Emit(context.Background(), "custom.event", "payload"))

	select {
	case payload := <-received:
		assert.Equal(t, "payload", payload)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestOrchestratorStopIsIdempotent(t *testing.T) {
	o := New()
	require.NoError(t, o.Start(context.Background()))
	o.Stop()
	o.Stop()
}
