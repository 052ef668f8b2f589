package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/Vivek-1102/Capx/pkg/models"
)

var ErrSendFailed = errors.New("send failed")

// MockClient simulates a connected downstream subscriber
type MockClient struct {
	IDVal    string
	Messages []string // raw payloads delivered to this client
	Closed   bool
	FailSend bool // when set, Send reports failure
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Send(b []byte) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailSend {
		return ErrSendFailed
	}
	m.Messages = append(m.Messages, string(b))
	return nil
}

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) LastMessage() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1]
}

func (m *MockClient) MessageCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Messages)
}

// MockUpstream simulates the feed connector and counts the control messages
// actually sent upstream, per symbol.
type MockUpstream struct {
	Subscribes   map[string]int
	Unsubscribes map[string]int
	Mu           sync.Mutex
}

func NewMockUpstream() *MockUpstream {
	return &MockUpstream{
		Subscribes:   make(map[string]int),
		Unsubscribes: make(map[string]int),
	}
}

func (m *MockUpstream) Subscribe(symbol string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Subscribes[symbol]++
	return nil
}

func (m *MockUpstream) Unsubscribe(symbol string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Unsubscribes[symbol]++
	return nil
}

func (m *MockUpstream) SubscribeCount(symbol string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Subscribes[symbol]
}

func (m *MockUpstream) UnsubscribeCount(symbol string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Unsubscribes[symbol]
}

// MockLedger serves a fixed instrument list for snapshot tests.
type MockLedger struct {
	Instruments []models.Instrument
	Err         error
}

func (m *MockLedger) FindAll(ctx context.Context) ([]models.Instrument, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Instruments, nil
}
