package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/deeflow/internal/app"
	"github.com/YoshitsuguKoike/deeflow/internal/application/engine"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/flow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/feedback"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
	"github.com/YoshitsuguKoike/deeflow/internal/workflow"
)

// SetDirective is the stdout line prefix a command uses to write working memory
const SetDirective = "::set "

// DefaultActionTimeout bounds a single command
const DefaultActionTimeout = 15 * time.Minute

// Command runs ACTION nodes as shell commands
type Command struct {
	Shell   string
	Timeout time.Duration
	WorkDir string
}

// NewCommand creates a command executor using sh
func NewCommand(timeout time.Duration) *Command {
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	return &Command{Shell: "sh", Timeout: timeout}
}

// Run executes n.Action.Command with working memory exported as DEEFLOW_MEM_*
func (c *Command) Run(ctx context.Context, n *node.Node, ec engine.ExecContext) (flow.Result, error) {
	spec := n.Action
	if spec == nil || strings.TrimSpace(spec.Command) == "" {
		if err := applySet(ec, n); err != nil {
			return flow.Result{}, err
		}
		return flow.Success("no command"), nil
	}

	timeout := c.Timeout
	if spec.TimeoutSeconds > 0 {
		timeout = time.Duration(spec.TimeoutSeconds) * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, c.Shell, "-c", spec.Command)
	cmd.Dir = c.WorkDir
	cmd.WaitDelay = 2 * time.Second
	cmd.Env = append(os.Environ(), Environment(n, ec)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	app.GetLogger().Debug("action %s: %s", n.ID, spec.Command)
	runErr := cmd.Run()
	elapsed := time.Since(start).Round(time.Millisecond)

	if err := ctx.Err(); err != nil {
		return flow.Result{}, err
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		app.GetLogger().Warn("action %s timed out after %s", n.ID, timeout)
		return flow.Timeout(fmt.Sprintf("command timed out after %s", timeout)), nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return flow.Result{}, fmt.Errorf("action %s: start command: %w", n.ID, runErr)
		}
		output := tail(stderr.String(), stdout.String())
		res := flow.Failure(fmt.Sprintf("exit %d: %s", exitErr.ExitCode(), output))
		res.Feedback = feedbackFrom(n, output)
		app.GetLogger().Info("action %s failed in %s with exit %d", n.ID, elapsed, exitErr.ExitCode())
		return res, nil
	}

	if err := applyDirectives(ec, stdout.String()); err != nil {
		return flow.Result{}, err
	}
	if err := applySet(ec, n); err != nil {
		return flow.Result{}, err
	}
	app.GetLogger().Info("action %s succeeded in %s", n.ID, elapsed)
	return flow.Success(tail(stdout.String())), nil
}

// Environment returns the variables exported to an action
func Environment(n *node.Node, ec engine.ExecContext) []string {
	env := []string{
		"DEEFLOW_RUN_ID=" + ec.RunID,
		"DEEFLOW_NODE_ID=" + n.ID,
	}
	snap := ec.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, "DEEFLOW_MEM_"+EnvName(k)+"="+snap[k])
	}
	if fb := ec.Feedback; fb != nil {
		env = append(env,
			"DEEFLOW_FEEDBACK_ID="+fb.ID,
			"DEEFLOW_FEEDBACK_FROM="+fb.FromNode,
			"DEEFLOW_FEEDBACK_TYPE="+string(fb.Type),
			"DEEFLOW_FEEDBACK_MESSAGE="+fb.Message,
			"DEEFLOW_FEEDBACK_SUGGESTED_FIX="+fb.SuggestedFix,
			"DEEFLOW_FEEDBACK_ROUND="+strconv.Itoa(fb.Round),
		)
	}
	return env
}

// EnvName maps a memory key to an environment variable suffix
func EnvName(key string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func applySet(ec engine.ExecContext, n *node.Node) error {
	if n.Action == nil || len(n.Action.Set) == 0 || ec.Memory == nil {
		return nil
	}
	keys := make([]string, 0, len(n.Action.Set))
	for k := range n.Action.Set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := ec.Memory.Set(k, n.Action.Set[k]); err != nil {
			return fmt.Errorf("action %s: set %s: %w", n.ID, k, err)
		}
	}
	return nil
}

// applyDirectives writes "::set key=value" lines from stdout to memory
func applyDirectives(ec engine.ExecContext, stdout string) error {
	if ec.Memory == nil {
		return nil
	}
	sc := bufio.NewScanner(strings.NewReader(stdout))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, SetDirective) {
			continue
		}
		k, v, ok := strings.Cut(strings.TrimPrefix(line, SetDirective), "=")
		if !ok || strings.TrimSpace(k) == "" {
			app.GetLogger().Warn("ignoring malformed directive %q", line)
			continue
		}
		if err := ec.Memory.Set(strings.TrimSpace(k), v); err != nil {
			return err
		}
	}
	return sc.Err()
}

func feedbackFrom(n *node.Node, output string) *feedback.Message {
	if n.Action == nil || n.Action.Feedback == nil {
		return nil
	}
	tpl := n.Action.Feedback
	msg := strings.ReplaceAll(tpl.Message, workflow.OutputPlaceholder, output)
	return &feedback.Message{
		FromNode:     n.ID,
		ToNode:       tpl.ToNode,
		Type:         feedback.Type(tpl.Type),
		Message:      msg,
		SuggestedFix: tpl.SuggestedFix,
		Priority:     feedback.Priority(tpl.Priority),
	}
}

// tail returns the last non-empty line of the first non-empty output
func tail(outputs ...string) string {
	for _, out := range outputs {
		lines := strings.Split(strings.TrimSpace(out), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			line := strings.TrimSpace(lines[i])
			if line != "" && !strings.HasPrefix(line, SetDirective) {
				return line
			}
		}
	}
	return ""
}
