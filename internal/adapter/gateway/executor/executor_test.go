package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deeflow/internal/adapter/gateway/executor"
	"github.com/YoshitsuguKoike/deeflow/internal/app/memory"
	"github.com/YoshitsuguKoike/deeflow/internal/application/engine"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/flow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/feedback"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
)

func action(id, command string) *node.Node {
	n := node.NewAction(id)
	n.Action = &node.ActionSpec{Command: command}
	return n
}

func execContext() (engine.ExecContext, *memory.Store) {
	mem := memory.New()
	return engine.ExecContext{RunID: "r1", Memory: mem}, mem
}

func TestCommand_SuccessAppliesSetAndDirectives(t *testing.T) {
	ec, mem := execContext()
	require.NoError(t, mem.Set("build.target", "linux"))

	n := action("build", `echo "::set artifact=bin/app-$DEEFLOW_MEM_BUILD_TARGET"; echo done`)
	n.Action.Set = map[string]string{"status": "built"}

	res, err := executor.NewCommand(0).Run(context.Background(), n, ec)
	require.NoError(t, err)
	assert.Equal(t, flow.Success("done"), res)

	v, _ := mem.Get("artifact")
	assert.Equal(t, "bin/app-linux", v)
	v, _ = mem.Get("status")
	assert.Equal(t, "built", v)
}

func TestCommand_FailureCarriesFeedbackTemplate(t *testing.T) {
	ec, mem := execContext()
	n := action("test", `echo "3 tests failed" >&2; exit 3`)
	n.Action.Set = map[string]string{"status": "passing"}
	n.Action.Feedback = &node.FeedbackTemplate{
		ToNode:  "design",
		Type:    "FIX_REQUEST",
		Message: "tests: {{output}}",
	}

	res, err := executor.NewCommand(0).Run(context.Background(), n, ec)
	require.NoError(t, err)
	assert.Equal(t, flow.StatusFailure, res.Status)
	assert.Equal(t, "exit 3: 3 tests failed", res.Detail)
	require.NotNil(t, res.Feedback)
	assert.Equal(t, "test", res.Feedback.FromNode)
	assert.Equal(t, feedback.TypeFixRequest, res.Feedback.Type)
	assert.Equal(t, "tests: 3 tests failed", res.Feedback.Message)

	_, ok := mem.Get("status")
	assert.False(t, ok, "set values apply only on success")
}

func TestCommand_PerActionTimeout(t *testing.T) {
	ec, _ := execContext()
	n := action("slow", "sleep 5")
	n.Action.TimeoutSeconds = 1

	start := time.Now()
	res, err := executor.NewCommand(time.Minute).Run(context.Background(), n, ec)
	require.NoError(t, err)
	assert.Equal(t, flow.StatusTimeout, res.Status)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestCommand_ParentCancellationIsAnError(t *testing.T) {
	ec, _ := execContext()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := executor.NewCommand(0).Run(ctx, action("a", "true"), ec)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommand_FeedbackIsExported(t *testing.T) {
	ec, mem := execContext()
	ec = ec.WithFeedback(&feedback.Message{ID: "FB-1", FromNode: "test", Type: feedback.TypeFixRequest, Message: "rename", Round: 2})
	n := action("design", `echo "::set seen=$DEEFLOW_FEEDBACK_MESSAGE/$DEEFLOW_FEEDBACK_ROUND"`)

	_, err := executor.NewCommand(0).Run(context.Background(), n, ec)
	require.NoError(t, err)
	v, _ := mem.Get("seen")
	assert.Equal(t, "rename/2", v)
}

func TestCommand_NoCommandIsANoop(t *testing.T) {
	ec, mem := execContext()
	n := node.NewAction("mark")
	n.Action = &node.ActionSpec{Set: map[string]string{"phase": "review"}}

	res, err := executor.NewCommand(0).Run(context.Background(), n, ec)
	require.NoError(t, err)
	assert.True(t, res.OK())
	v, _ := mem.Get("phase")
	assert.Equal(t, "review", v)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "BUILD_STATUS", executor.EnvName("build.status"))
	assert.Equal(t, "LOOP_FIX_1_BREAK", executor.EnvName("loop.fix-1.break"))
}

func TestStatic_ScriptsRepeatLastResult(t *testing.T) {
	ec, mem := execContext()
	s := executor.NewStatic(map[string][]flow.Result{
		"flaky": {flow.Failure("first"), flow.Success("second")},
	})
	n := node.NewAction("flaky")
	n.Action = &node.ActionSpec{Set: map[string]string{"status": "passing"}}

	res, err := s.Run(context.Background(), n, ec)
	require.NoError(t, err)
	assert.Equal(t, "first", res.Detail)
	_, ok := mem.Get("status")
	assert.False(t, ok)

	for i := 0; i < 2; i++ {
		res, err = s.Run(context.Background(), n, ec)
		require.NoError(t, err)
		assert.Equal(t, "second", res.Detail)
	}
	v, _ := mem.Get("status")
	assert.Equal(t, "passing", v)
	assert.Equal(t, 3, s.Calls("flaky"))

	res, err = s.Run(context.Background(), node.NewAction("other"), ec)
	require.NoError(t, err)
	assert.True(t, res.OK())
}
