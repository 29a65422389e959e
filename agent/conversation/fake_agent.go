package conversation

import (
	"context"
	"sync"

	"github.com/BaSui01/careflow/agent/chatctx"
)

// FakeAgent replies from a script and records every invocation.
// Once the script is exhausted the last reply repeats.
type FakeAgent struct {
	name        string
	description string
	facilitator bool

	mu       sync.Mutex
	replies  []string
	err      error
	probeErr error
	calls    [][]chatctx.ChatMessage
}

// NewFakeAgent creates a FakeAgent answering with replies in order.
func NewFakeAgent(name string, facilitator bool, replies ...string) *FakeAgent {
	return &FakeAgent{name: name, description: name + " agent", facilitator: facilitator, replies: replies}
}

// WithError makes every Invoke fail with err.
func (f *FakeAgent) WithError(err error) *FakeAgent {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	return f
}

// WithProbeError makes Probe fail with err.
func (f *FakeAgent) WithProbeError(err error) *FakeAgent {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeErr = err
	return f
}

func (f *FakeAgent) Name() string        { return f.name }
func (f *FakeAgent) Description() string { return f.description }
func (f *FakeAgent) IsFacilitator() bool { return f.facilitator }

func (f *FakeAgent) Invoke(ctx context.Context, history []chatctx.ChatMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]chatctx.ChatMessage(nil), history...))
	if f.err != nil {
		return "", f.err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func (f *FakeAgent) Probe(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeErr
}

// Calls returns the number of invocations.
func (f *FakeAgent) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// LastHistory returns the history seen by the most recent invocation.
func (f *FakeAgent) LastHistory() []chatctx.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}
