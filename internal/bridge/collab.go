package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/voxbridge/voxbridge/internal/backend"
)

// BackendSession is the subset of the backend client the bridge drives.
// *backend.Client satisfies it; tests substitute a scripted double.
type BackendSession interface {
	Events() <-chan backend.Event
	AppendAudio(pcm []byte) error
	CommitInput() error
	CreateResponse() error
	CancelResponse() error
	CreateFunctionOutput(callID, output string) error
	InjectText(role, text string) error
	Close() error
}

var _ BackendSession = (*backend.Client)(nil)

// RecordingSink receives both directions of a conversation's audio at the
// canonical sample rate. Implementations must not block; the bridge calls
// from its event loop.
type RecordingSink interface {
	// WriteInbound receives caller audio after decode and resample.
	WriteInbound(conversationID string, pcm []byte)

	// WriteOutbound receives backend response audio before platform encode.
	WriteOutbound(conversationID string, pcm []byte)

	// Close marks the conversation's recording as complete.
	Close(conversationID string)
}

// FunctionHandler executes one function call requested by the backend. The
// args string is the raw JSON argument object. The returned string is
// reported back verbatim, so it should be JSON.
type FunctionHandler func(ctx context.Context, args string) (string, error)

// Function pairs a backend-visible definition with its local handler.
type Function struct {
	Definition backend.FunctionDefinition
	Handler    FunctionHandler
}

// FunctionRegistry holds the functions offered to the backend. Safe for
// concurrent use; registration normally happens before any conversation
// starts.
type FunctionRegistry struct {
	mu  sync.RWMutex
	fns map[string]Function
}

// NewFunctionRegistry returns an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{fns: make(map[string]Function)}
}

// Register adds or replaces a function by its definition name.
func (r *FunctionRegistry) Register(fn Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[fn.Definition.Name] = fn
}

// Lookup returns the function registered under name.
func (r *FunctionRegistry) Lookup(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	return fn, ok
}

// Definitions returns the definitions of all registered functions, for the
// backend session.update.
func (r *FunctionRegistry) Definitions() []backend.FunctionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]backend.FunctionDefinition, 0, len(r.fns))
	for _, fn := range r.fns {
		out = append(out, fn.Definition)
	}
	return out
}

// TranscriptEntry is one recognised utterance, caller or assistant.
type TranscriptEntry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Snapshot is the persisted state of a conversation, enough to greet a
// resuming caller with context intact.
type Snapshot struct {
	ConversationID string            `json:"conversation_id"`
	Platform       string            `json:"platform"`
	StartedAt      time.Time         `json:"started_at"`
	UserTurns      int               `json:"user_turns"`
	Transcript     []TranscriptEntry `json:"transcript"`
}

// SessionStore persists conversation snapshots across reconnects.
type SessionStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, conversationID string) (Snapshot, bool, error)
	Delete(ctx context.Context, conversationID string) error
}

// MemoryStore is an in-process SessionStore. Snapshots survive platform
// reconnects but not process restarts.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

var _ SessionStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

// Save implements SessionStore.
func (s *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.ConversationID] = snap
	return nil
}

// Load implements SessionStore.
func (s *MemoryStore) Load(_ context.Context, conversationID string) (Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[conversationID]
	return snap, ok, nil
}

// Delete implements SessionStore.
func (s *MemoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, conversationID)
	return nil
}
