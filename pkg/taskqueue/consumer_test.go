package taskqueue

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Wang-0809/ufoo-sub001/internal/config"
	"github.com/John-Wang-0809/ufoo-sub001/pkg/agent"
	"github.com/John-Wang-0809/ufoo-sub001/pkg/provider"
	"github.com/John-Wang-0809/ufoo-sub001/pkg/session"
)

type fakeRunner struct {
	mu      sync.Mutex
	prompts []string
	params  []agent.TaskParams
	fail    map[string]string
	cancel  context.CancelFunc
}

func (f *fakeRunner) RunSession(_ context.Context, params agent.TaskParams) agent.TaskResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, params.Prompt)
	f.params = append(f.params, params)
	if f.cancel != nil {
		f.cancel()
	}
	if msg, ok := f.fail[params.Prompt]; ok {
		return agent.TaskResult{OK: false, Error: msg}
	}
	return agent.TaskResult{OK: true, Output: "done: " + params.Prompt}
}

type reply struct {
	agent string
	text  string
}

type fakeReplier struct {
	mu      sync.Mutex
	replies []reply
	failFor string
}

func (f *fakeReplier) SendReply(_ context.Context, agentID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if agentID == f.failFor {
		return errors.New("send reply to " + agentID + " failed: bus offline")
	}
	f.replies = append(f.replies, reply{agentID, text})
	return nil
}

func newTestConsumer(t *testing.T, runner TaskRunner, replier *fakeReplier) *Consumer {
	t.Helper()
	c, err := NewConsumer(Config{
		Runner:        runner,
		Replier:       replier,
		WorkspaceRoot: "/work",
		Subscriber:    "me",
		Params:        agent.TaskParams{Model: "m1", Timeout: time.Minute},
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

func task(seq int, publisher, message string) string {
	return `{"seq":` + strconv.Itoa(seq) + `,"event":"message","publisher":"` + publisher + `","target":"me","data":{"message":"` + message + `"}}`
}

func TestNewConsumer_RequiresCollaborators(t *testing.T) {
	_, err := NewConsumer(Config{Replier: &fakeReplier{}})
	assert.Error(t, err)
	_, err = NewConsumer(Config{Runner: &fakeRunner{}})
	assert.Error(t, err)
}

func TestDrainAndProcess_MissingPendingFile(t *testing.T) {
	runner := &fakeRunner{}
	c := newTestConsumer(t, runner, &fakeReplier{})

	res, err := c.DrainAndProcess(context.Background(), filepath.Join(t.TempDir(), "pending.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Handled)
	assert.Empty(t, res.Errors)
	assert.Empty(t, runner.prompts)
}

func TestDrainAndProcess_HandlesTasks(t *testing.T) {
	dir := t.TempDir()
	pending := filepath.Join(dir, "pending.jsonl")
	writeFile(t, pending,
		task(1, "alice", "first"),
		"garbage",
		`{"seq":2,"event":"wake","publisher":"alice"}`,
		task(3, "bob", "second"),
	)

	runner := &fakeRunner{}
	replier := &fakeReplier{}
	c := newTestConsumer(t, runner, replier)

	res, err := c.DrainAndProcess(context.Background(), pending)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Handled)
	assert.Equal(t, 2, res.Dropped)
	assert.Empty(t, res.Errors)

	assert.Equal(t, []string{"first", "second"}, runner.prompts)
	assert.Equal(t, "/work", runner.params[0].WorkspaceRoot)
	assert.Equal(t, "m1", runner.params[0].Model)
	assert.Equal(t, "queue-alice", runner.params[0].SessionID)
	assert.Equal(t, "queue-bob", runner.params[1].SessionID)
	assert.Equal(t, []reply{{"alice", "done: first"}, {"bob", "done: second"}}, replier.replies)

	// Queue is empty and no marker is left behind.
	assert.NoFileExists(t, pending)
	markers, err := ListMarkers(pending)
	require.NoError(t, err)
	assert.Empty(t, markers)
}

func TestDrainAndProcess_RequeuesFailures(t *testing.T) {
	dir := t.TempDir()
	pending := filepath.Join(dir, "pending.jsonl")
	failing := task(1, "alice", "boom")
	unreachable := task(2, "carol", "hi")
	writeFile(t, pending, failing, unreachable, task(3, "bob", "ok"))

	runner := &fakeRunner{fail: map[string]string{"boom": "provider request failed (500): oops"}}
	replier := &fakeReplier{failFor: "carol"}
	c := newTestConsumer(t, runner, replier)

	res, err := c.DrainAndProcess(context.Background(), pending)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Handled)
	assert.Equal(t, 2, res.Requeued)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "provider request failed (500)")
	assert.Contains(t, res.Errors[1], "bus offline")

	assert.Equal(t, []string{failing, unreachable}, fileLines(t, pending))
	assert.Equal(t, []reply{{"bob", "done: ok"}}, replier.replies)
}

func TestDrainAndProcess_RecoversStaleMarkerFirst(t *testing.T) {
	dir := t.TempDir()
	pending := filepath.Join(dir, "pending.jsonl")
	// A consumer crashed mid-batch.
	writeFile(t, MarkerPath(pending, 0, time.Now().Add(-time.Hour)), task(1, "alice", "orphan"))
	writeFile(t, pending, task(2, "bob", "fresh"))

	runner := &fakeRunner{}
	c := newTestConsumer(t, runner, &fakeReplier{})

	res, err := c.DrainAndProcess(context.Background(), pending)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Recovered)
	assert.Equal(t, 2, res.Handled)
	assert.Equal(t, []string{"fresh", "orphan"}, runner.prompts)

	markers, err := ListMarkers(pending)
	require.NoError(t, err)
	assert.Empty(t, markers)
}

func TestDrainAndProcess_CancelledMidBatchRequeuesRest(t *testing.T) {
	dir := t.TempDir()
	pending := filepath.Join(dir, "pending.jsonl")
	second := task(2, "bob", "b")
	third := task(3, "carol", "c")
	writeFile(t, pending, task(1, "alice", "a"), second, third)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &fakeRunner{cancel: cancel}
	c := newTestConsumer(t, runner, &fakeReplier{})

	res, err := c.DrainAndProcess(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Handled)
	assert.Equal(t, 2, res.Requeued)
	assert.Equal(t, []string{"a"}, runner.prompts)
	assert.Equal(t, []string{second, third}, fileLines(t, pending))
}

func TestDrainAndProcess_ProducerAppendDuringDrainIsKept(t *testing.T) {
	dir := t.TempDir()
	pending := filepath.Join(dir, "pending.jsonl")
	writeFile(t, pending, task(1, "alice", "a"))

	late := task(2, "bob", "late")
	runner := &appendingRunner{pending: pending, line: late}
	c := newTestConsumer(t, runner, &fakeReplier{})

	res, err := c.DrainAndProcess(context.Background(), pending)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Handled)
	assert.Equal(t, []string{late}, fileLines(t, pending))
}

// appendingRunner simulates a producer writing while a batch runs.
type appendingRunner struct {
	pending string
	line    string
}

func (a *appendingRunner) RunSession(_ context.Context, params agent.TaskParams) agent.TaskResult {
	if err := appendLines(a.pending, []string{a.line}); err != nil {
		return agent.TaskResult{OK: false, Error: err.Error()}
	}
	return agent.TaskResult{OK: true, Output: "ok"}
}

func TestSessionID(t *testing.T) {
	assert.Equal(t, "queue-claude-code:abc123", SessionID("claude-code:abc123"))
	assert.Equal(t, "queue-a-b", SessionID(" a/b "))
	assert.Len(t, SessionID(strings.Repeat("x", 300)), 128)
}

// recordingClient answers every turn with a fixed text and keeps the
// messages of each request.
type recordingClient struct {
	mu       sync.Mutex
	messages [][]provider.Message
}

func (r *recordingClient) Turn(_ context.Context, req provider.TurnRequest) (provider.TurnResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, append([]provider.Message(nil), req.Messages...))
	return provider.TurnResult{Text: "reply " + strconv.Itoa(len(r.messages))}, nil
}

func TestDrainAndProcess_ContinuesPublisherSession(t *testing.T) {
	root := t.TempDir()
	pending := filepath.Join(root, "pending.jsonl")

	cfg := config.DefaultConfig()
	cfg.Provider = "openai"
	cfg.Model = "gpt-test"
	cfg.BaseURL = "https://example.test/v1"
	client := &recordingClient{}
	runner, err := agent.NewRunner(agent.Config{
		Client:     client,
		LoadConfig: func(string) (*config.Config, error) { return cfg, nil },
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	replier := &fakeReplier{}
	c, err := NewConsumer(Config{
		Runner:        runner,
		Replier:       replier,
		WorkspaceRoot: root,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)

	writeFile(t, pending, task(1, "alice", "first question"))
	res, err := c.DrainAndProcess(context.Background(), pending)
	require.NoError(t, err)
	require.Equal(t, 1, res.Handled)

	writeFile(t, pending, task(2, "alice", "follow up"))
	res, err = c.DrainAndProcess(context.Background(), pending)
	require.NoError(t, err)
	require.Equal(t, 1, res.Handled)

	require.Len(t, client.messages, 2)
	second := client.messages[1]
	require.Len(t, second, 3)
	assert.Equal(t, "first question", second[0].Content)
	assert.Equal(t, "reply 1", second[1].Content)
	assert.Equal(t, "follow up", second[2].Content)

	snap, err := session.Load(root, SessionID("alice"))
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 4)
	assert.Equal(t, []reply{{"alice", "reply 1"}, {"alice", "reply 2"}}, replier.replies)
}
