package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/automaker/internal/store"
)

// Message is one turn of a conversational session.
type Message struct {
	Role    string       `json:"role"`
	Content string       `json:"content"`
	Images  []ImageBlock `json:"images,omitempty"`
	Time    time.Time    `json:"time"`
}

// session is the in-memory state of one conversation.
type session struct {
	id       string
	provider string
	model    string
	workDir  string

	mu       sync.Mutex
	messages []Message
	cancel   context.CancelFunc
	running  bool
}

// SessionManager runs multi-turn conversations through the agent runner and
// persists transcripts in the per-user data directory.
type SessionManager struct {
	runner   *Runner
	registry *Registry
	userData *store.UserData

	mu       sync.Mutex
	sessions map[string]*session
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(runner *Runner, registry *Registry, userData *store.UserData) *SessionManager {
	return &SessionManager{
		runner:   runner,
		registry: registry,
		userData: userData,
		sessions: make(map[string]*session),
	}
}

// CreateSession starts a new conversation and returns its id.
func (m *SessionManager) CreateSession(provider, model, workDir, name string) (string, error) {
	if _, err := m.registry.Provider(provider); err != nil {
		return "", err
	}
	id := uuid.New().String()

	m.mu.Lock()
	m.sessions[id] = &session{id: id, provider: provider, model: model, workDir: workDir}
	m.mu.Unlock()

	if m.userData != nil {
		if err := m.userData.SaveSessionTranscript(id, []Message{}, store.SessionMeta{Name: name, ProjectPath: workDir}); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (m *SessionManager) get(id string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", id)
	}
	return s, nil
}

// SendMessage appends a user turn, runs the provider over the whole
// conversation, and streams events to subscriber. It blocks until the run
// finishes; concurrent sends to the same session are rejected.
func (m *SessionManager) SendMessage(ctx context.Context, id, text string, imagePaths []string, subscriber chan<- Event) (*Result, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}

	p, err := m.registry.Provider(s.provider)
	if err != nil {
		return nil, err
	}

	images, err := EncodeImages(imagePaths)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %q already has a message in flight", id)
	}
	s.running = true
	s.cancel = cancel
	s.messages = append(s.messages, Message{Role: "user", Content: text, Images: images, Time: time.Now()})
	prompt := renderConversation(s.messages)
	s.mu.Unlock()

	result, err := m.runner.Run(runCtx, p, RunConfig{
		WorkDir: s.workDir,
		Prompt:  prompt,
		Model:   s.model,
		Images:  images,
	}, subscriber)

	s.mu.Lock()
	s.running = false
	s.cancel = nil
	if result != nil && result.Summary != "" {
		s.messages = append(s.messages, Message{Role: "assistant", Content: result.Summary, Time: time.Now()})
	}
	messages := append([]Message(nil), s.messages...)
	s.mu.Unlock()

	if m.userData != nil {
		m.userData.SaveSessionTranscript(id, messages, store.SessionMeta{ProjectPath: s.workDir})
	}
	return result, err
}

// Stop cancels the session's in-flight run, if any.
func (m *SessionManager) Stop(id string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// History returns a copy of the session's messages.
func (m *SessionManager) History(id string) ([]Message, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...), nil
}

// renderConversation flattens prior turns into a single prompt for CLIs that
// take one prompt per invocation.
func renderConversation(messages []Message) string {
	var b strings.Builder
	for i, msg := range messages {
		if i == len(messages)-1 && msg.Role == "user" {
			b.WriteString(msg.Content)
			break
		}
		fmt.Fprintf(&b, "%s: %s\n\n", strings.ToUpper(msg.Role), msg.Content)
	}
	return b.String()
}
