package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted test double. Each ChatStream call replays the
// next recorded event script; each Chat call returns the next recorded
// response. The last script or response repeats once the list is
// exhausted.
type MockClient struct {
	mu sync.Mutex

	name      string
	scripts   [][]StreamEvent
	responses []*ChatResponse
	streamErr error
	chatErr   error

	streamCalls int
	chatCalls   int
}

// NewMock creates a mock client.
func NewMock(name string) *MockClient {
	return &MockClient{name: name}
}

// WithScript appends one streaming call's worth of events. The script
// should end with EventDone or EventError; a missing terminal event is
// tolerated (the channel simply closes).
func (m *MockClient) WithScript(events ...StreamEvent) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, events)
	return m
}

// WithResponse appends one blocking call's response.
func (m *MockClient) WithResponse(resp *ChatResponse) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return m
}

// WithStreamError makes ChatStream fail before yielding events.
func (m *MockClient) WithStreamError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamErr = err
	return m
}

// WithChatError makes Chat fail.
func (m *MockClient) WithChatError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatErr = err
	return m
}

// Name returns the mock's identifier.
func (m *MockClient) Name() string { return m.name }

// StreamCalls reports how many times ChatStream was invoked.
func (m *MockClient) StreamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCalls
}

// ChatCalls reports how many times Chat was invoked.
func (m *MockClient) ChatCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatCalls
}

// Chat returns the next scripted response.
func (m *MockClient) Chat(ctx context.Context, messages []Message, tools []Tool) (*ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	idx := m.chatCalls
	m.chatCalls++
	if len(m.responses) == 0 {
		return &ChatResponse{}, nil
	}
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

// ChatStream replays the next scripted event sequence.
func (m *MockClient) ChatStream(ctx context.Context, messages []Message, tools []Tool) (<-chan StreamEvent, error) {
	m.mu.Lock()
	if m.streamErr != nil {
		err := m.streamErr
		m.mu.Unlock()
		return nil, err
	}
	idx := m.streamCalls
	m.streamCalls++
	var script []StreamEvent
	if len(m.scripts) > 0 {
		if idx >= len(m.scripts) {
			idx = len(m.scripts) - 1
		}
		script = m.scripts[idx]
	}
	m.mu.Unlock()

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		for _, evt := range script {
			if !trySend(ctx, ch, evt) {
				return
			}
		}
	}()
	return ch, nil
}

// Close is a no-op.
func (m *MockClient) Close() error { return nil }
