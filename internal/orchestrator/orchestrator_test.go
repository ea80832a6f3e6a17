package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clink/internal/continuation"
	"clink/internal/launcher"
	"clink/internal/logging"
	"clink/internal/registry"
	"clink/internal/result"
	"clink/internal/roles"
)

// fakeLauncher scripts subprocess outcomes without spawning anything.
type fakeLauncher struct {
	mu       sync.Mutex
	requests []launcher.Request
	handler  func(launcher.Request) (launcher.Output, error)
}

func (f *fakeLauncher) Launch(_ context.Context, req launcher.Request) (launcher.Output, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.handler(req)
}

func (f *fakeLauncher) last(t *testing.T) launcher.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests, "no launch recorded")
	return f.requests[len(f.requests)-1]
}

func quietLogger() *logging.Logger {
	log := logging.New()
	log.SetLevel(logging.LevelError)
	return log
}

func testRegistry(t *testing.T, configs ...registry.AgentConfig) *registry.Registry {
	t.Helper()
	if len(configs) == 0 {
		configs = []registry.AgentConfig{{
			Name:       "codex",
			Executable: "codex",
			Args:       []string{"exec", "--json"},
			Format:     registry.FormatJSONL,
			Timeout:    time.Minute,
		}}
	}
	reg, err := registry.New(configs)
	require.NoError(t, err)
	return reg
}

func testRoles(t *testing.T, templates ...roles.Template) *roles.Store {
	t.Helper()
	if len(templates) == 0 {
		templates = []roles.Template{
			{Agent: "codex", Name: "default", Text: "You are a helpful engineer."},
			{Agent: "codex", Name: "reviewer", Text: "Review the code.", Args: []string{"--profile", "review"}},
		}
	}
	store, err := roles.NewStore(templates)
	require.NoError(t, err)
	return store
}

func newTestOrchestrator(t *testing.T, fake *fakeLauncher, opts Options) (*Orchestrator, *continuation.MemoryStore) {
	t.Helper()
	store := continuation.NewMemoryStore(continuation.MemoryConfig{Logger: quietLogger()})
	o := New(testRegistry(t), testRoles(t), fake, store, quietLogger(), opts)
	return o, store
}

func jsonlAnswer(answer string) func(launcher.Request) (launcher.Output, error) {
	return func(launcher.Request) (launcher.Output, error) {
		return launcher.Output{
			Stdout:   fmt.Sprintf(`{"type":"agent_message","answer":%q}`, answer) + "\n",
			ExitCode: 0,
			Duration: 20 * time.Millisecond,
			Command:  []string{"codex", "exec", "--json"},
		}, nil
	}
}

func TestInvoke_HappyPath(t *testing.T) {
	fake := &fakeLauncher{handler: jsonlAnswer("the answer is 42")}
	o, _ := newTestOrchestrator(t, fake, Options{})

	resp, err := o.Invoke(context.Background(), Request{Agent: "codex", Task: "what is the answer?"})
	require.NoError(t, err)

	assert.Equal(t, result.StatusOK, resp.Result.Status)
	assert.Equal(t, "the answer is 42", resp.Result.Answer)
	assert.NotEmpty(t, resp.ContinuationID)
	assert.Equal(t, 0, resp.Turn)
	assert.Equal(t, "codex", resp.Result.Meta("agent"))
	assert.Equal(t, "default", resp.Result.Meta("role"))
	assert.Equal(t, "codex exec --json", resp.Result.Meta("command"))

	// The composed prompt carries the role text and the task.
	prompt := fake.last(t).Prompt
	assert.Contains(t, prompt, "You are a helpful engineer.")
	assert.Contains(t, prompt, "what is the answer?")
}

func TestInvoke_RoleArgsForwarded(t *testing.T) {
	fake := &fakeLauncher{handler: jsonlAnswer("looks fine")}
	o, _ := newTestOrchestrator(t, fake, Options{})

	_, err := o.Invoke(context.Background(), Request{
		Agent:    "codex",
		Role:     "reviewer",
		Task:     "review main.go",
		FileRefs: []string{"main.go"},
	})
	require.NoError(t, err)

	req := fake.last(t)
	assert.Equal(t, []string{"--profile", "review"}, req.RoleArgs)
	assert.Equal(t, []string{"main.go"}, req.FileRefs)
	assert.Contains(t, req.Prompt, "Review the code.")
}

func TestInvoke_UnknownAgentIsPreSpawn(t *testing.T) {
	fake := &fakeLauncher{handler: jsonlAnswer("unused")}
	o, _ := newTestOrchestrator(t, fake, Options{})

	_, err := o.Invoke(context.Background(), Request{Agent: "ghost", Task: "hi"})
	require.ErrorIs(t, err, registry.ErrUnknownAgent)
	assert.Empty(t, fake.requests, "no subprocess may start for an unknown agent")
}

func TestInvoke_UnknownRoleIsPreSpawn(t *testing.T) {
	fake := &fakeLauncher{handler: jsonlAnswer("unused")}
	o, _ := newTestOrchestrator(t, fake, Options{})

	_, err := o.Invoke(context.Background(), Request{Agent: "codex", Role: "nonexistent", Task: "hi"})
	require.ErrorIs(t, err, roles.ErrUnknownRole)
	assert.Empty(t, fake.requests)
}

func TestInvoke_RoleFallback(t *testing.T) {
	fake := &fakeLauncher{handler: jsonlAnswer("ok")}
	o, _ := newTestOrchestrator(t, fake, Options{RoleFallback: true})

	resp, err := o.Invoke(context.Background(), Request{Agent: "codex", Role: "nonexistent", Task: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "default", resp.Result.Meta("role"))
}

func TestInvoke_UnknownContinuationIsPreSpawn(t *testing.T) {
	fake := &fakeLauncher{handler: jsonlAnswer("unused")}
	o, _ := newTestOrchestrator(t, fake, Options{})

	_, err := o.Invoke(context.Background(), Request{
		Agent:          "codex",
		Task:           "hi",
		ContinuationID: "never-minted",
	})
	require.ErrorIs(t, err, continuation.ErrNotFound)
	assert.Empty(t, fake.requests)
}

func TestInvoke_EmptyTaskRejected(t *testing.T) {
	fake := &fakeLauncher{handler: jsonlAnswer("unused")}
	o, _ := newTestOrchestrator(t, fake, Options{})

	_, err := o.Invoke(context.Background(), Request{Agent: "codex", Task: "   "})
	require.Error(t, err)
	assert.Empty(t, fake.requests)
}

func TestInvoke_HistoryThreadsAcrossTurns(t *testing.T) {
	fake := &fakeLauncher{handler: jsonlAnswer("first answer")}
	o, _ := newTestOrchestrator(t, fake, Options{})

	first, err := o.Invoke(context.Background(), Request{Agent: "codex", Task: "first question"})
	require.NoError(t, err)

	fake.handler = jsonlAnswer("second answer")
	second, err := o.Invoke(context.Background(), Request{
		Agent:          "codex",
		Task:           "second question",
		ContinuationID: first.ContinuationID,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ContinuationID, second.ContinuationID)
	assert.Equal(t, 1, second.Turn)

	// The second prompt contains the first exchange, task not composed
	// prompt, and history precedes the new request.
	prompt := fake.last(t).Prompt
	assert.Contains(t, prompt, "first question")
	assert.Contains(t, prompt, "first answer")
	assert.NotContains(t, strings.SplitN(prompt, "=== USER REQUEST ===", 2)[1], "first question")
	assert.Less(t,
		strings.Index(prompt, "first question"),
		strings.Index(prompt, "second question"))
}

func TestInvoke_TimeoutBecomesStructuredResult(t *testing.T) {
	fake := &fakeLauncher{handler: func(launcher.Request) (launcher.Output, error) {
		return launcher.Output{
			Stdout:   "partial progress",
			ExitCode: -1,
			TimedOut: true,
			Duration: 100 * time.Millisecond,
		}, nil
	}}
	o, _ := newTestOrchestrator(t, fake, Options{})

	resp, err := o.Invoke(context.Background(), Request{
		Agent:   "codex",
		Task:    "slow task",
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err, "timeout must come back as a result, not an error")
	assert.Equal(t, result.StatusTimeout, resp.Result.Status)
	assert.Contains(t, resp.Result.ErrorDetail, "timed out after 100ms")
	assert.Equal(t, "partial progress", resp.Result.Meta("partial_output"))
	assert.NotEmpty(t, resp.ContinuationID, "a timeout still records a turn")
}

func TestInvoke_LaunchFailureBecomesStructuredResult(t *testing.T) {
	fake := &fakeLauncher{handler: func(launcher.Request) (launcher.Output, error) {
		return launcher.Output{}, fmt.Errorf("%w: executable missing", launcher.ErrLaunch)
	}}
	o, _ := newTestOrchestrator(t, fake, Options{})

	resp, err := o.Invoke(context.Background(), Request{Agent: "codex", Task: "hi"})
	require.NoError(t, err)
	assert.Equal(t, result.StatusLaunchFailure, resp.Result.Status)
	assert.Contains(t, resp.Result.ErrorDetail, "executable missing")
	assert.Equal(t, -1, resp.Result.ExitCode)
}

func TestInvoke_CancellationPropagates(t *testing.T) {
	fake := &fakeLauncher{handler: func(launcher.Request) (launcher.Output, error) {
		return launcher.Output{Stdout: "partial"}, context.Canceled
	}}
	o, store := newTestOrchestrator(t, fake, Options{})

	_, err := o.Invoke(context.Background(), Request{Agent: "codex", Task: "hi"})
	require.ErrorIs(t, err, context.Canceled)

	// The minted conversation exists but holds no turn.
	require.Equal(t, 1, store.Len())
}

func TestInvoke_AgentErrorRecordedInHistory(t *testing.T) {
	fake := &fakeLauncher{handler: func(launcher.Request) (launcher.Output, error) {
		return launcher.Output{
			Stdout:   `{"type":"error","error":"model overloaded"}` + "\n",
			ExitCode: 2,
		}, nil
	}}
	o, store := newTestOrchestrator(t, fake, Options{})

	resp, err := o.Invoke(context.Background(), Request{Agent: "codex", Task: "doomed"})
	require.NoError(t, err)
	assert.Equal(t, result.StatusAgentError, resp.Result.Status)
	assert.Equal(t, "model overloaded", resp.Result.ErrorDetail)

	conv, err := store.Get(resp.ContinuationID)
	require.NoError(t, err)
	require.Len(t, conv.Turns, 1)
	assert.Equal(t, result.StatusAgentError, conv.Turns[0].Result.Status)

	// A later turn sees the failure in its history rather than silence.
	fake.handler = jsonlAnswer("recovered")
	_, err = o.Invoke(context.Background(), Request{
		Agent:          "codex",
		Task:           "try again",
		ContinuationID: resp.ContinuationID,
	})
	require.NoError(t, err)
	assert.Contains(t, fake.last(t).Prompt, "model overloaded")
}

func TestInvoke_OversizedAnswerUsesSummary(t *testing.T) {
	long := strings.Repeat("x", 500)
	answer := long + "<SUMMARY>the short version</SUMMARY>" + long
	fake := &fakeLauncher{handler: jsonlAnswer(answer)}
	o, _ := newTestOrchestrator(t, fake, Options{MaxAnswerChars: 200})

	resp, err := o.Invoke(context.Background(), Request{Agent: "codex", Task: "long one"})
	require.NoError(t, err)
	assert.Equal(t, "the short version", resp.Result.Answer)
	assert.Equal(t, true, resp.Result.Meta("output_truncated"))
	assert.Equal(t, true, resp.Result.Meta("summarized"))
}

func TestInvoke_OversizedAnswerWithoutSummaryTruncated(t *testing.T) {
	fake := &fakeLauncher{handler: jsonlAnswer(strings.Repeat("y", 500))}
	o, _ := newTestOrchestrator(t, fake, Options{MaxAnswerChars: 200})

	resp, err := o.Invoke(context.Background(), Request{Agent: "codex", Task: "long one"})
	require.NoError(t, err)
	assert.Contains(t, resp.Result.Answer, "[response truncated")
	assert.Equal(t, true, resp.Result.Meta("output_truncated"))
	assert.Nil(t, resp.Result.Meta("summarized"))
}

func TestInvoke_HistoryTruncationFlagged(t *testing.T) {
	fake := &fakeLauncher{handler: jsonlAnswer("initial")}
	o, _ := newTestOrchestrator(t, fake, Options{MaxHistoryTurns: 2})

	resp, err := o.Invoke(context.Background(), Request{Agent: "codex", Task: "turn 0"})
	require.NoError(t, err)
	id := resp.ContinuationID

	for i := 1; i <= 3; i++ {
		fake.handler = jsonlAnswer(fmt.Sprintf("answer %d", i))
		resp, err = o.Invoke(context.Background(), Request{
			Agent:          "codex",
			Task:           fmt.Sprintf("turn %d", i),
			ContinuationID: id,
		})
		require.NoError(t, err)
	}

	assert.Equal(t, true, resp.Result.Meta("history_truncated"))
	assert.Equal(t, 2, resp.Result.Meta("history_turns"))
	prompt := fake.last(t).Prompt
	assert.Contains(t, prompt, "[earlier exchanges omitted")
	assert.NotContains(t, strings.SplitN(prompt, "=== USER REQUEST ===", 2)[0], "turn 0")
}

func TestInvoke_ConcurrentInvocationsSameConversation(t *testing.T) {
	fake := &fakeLauncher{handler: jsonlAnswer("concurrent answer")}
	o, store := newTestOrchestrator(t, fake, Options{})

	first, err := o.Invoke(context.Background(), Request{Agent: "codex", Task: "seed"})
	require.NoError(t, err)
	id := first.ContinuationID

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := o.Invoke(context.Background(), Request{
				Agent:          "codex",
				Task:           fmt.Sprintf("parallel %d", i),
				ContinuationID: id,
			})
			if err != nil {
				t.Errorf("invoke %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	conv, err := store.Get(id)
	require.NoError(t, err)
	require.Len(t, conv.Turns, n+1)
	for i, turn := range conv.Turns {
		assert.Equal(t, i, turn.Index)
	}
}

func TestInvoke_EvictedDuringLaunchStillReturnsResult(t *testing.T) {
	var store *continuation.MemoryStore
	var id string

	fake := &fakeLauncher{handler: func(req launcher.Request) (launcher.Output, error) {
		// Simulate eviction while the subprocess runs.
		if id != "" {
			require.NoError(t, store.Close(id))
		}
		return jsonlAnswer("late answer")(req)
	}}

	store = continuation.NewMemoryStore(continuation.MemoryConfig{Logger: quietLogger()})
	o := New(testRegistry(t), testRoles(t), fake, store, quietLogger(), Options{})

	seed, err := o.Invoke(context.Background(), Request{Agent: "codex", Task: "seed"})
	require.NoError(t, err)

	id = seed.ContinuationID
	resp, err := o.Invoke(context.Background(), Request{
		Agent:          "codex",
		Task:           "about to be orphaned",
		ContinuationID: id,
	})
	require.NoError(t, err, "eviction mid-flight must not fail the invocation")
	assert.Equal(t, "late answer", resp.Result.Answer)
	assert.Empty(t, resp.ContinuationID, "the thread is gone, the result is not")
}
