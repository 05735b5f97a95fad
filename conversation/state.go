// ABOUTME: Bounded, ordered message history for a single conversation session.
// ABOUTME: Appends never fail; overflow evicts the oldest messages first.

package conversation

import (
	"github.com/2389-research/buddy/llm"
)

// DefaultWindow is the number of messages kept per session when unset.
const DefaultWindow = 20

// State is a FIFO window of messages. It is not safe for concurrent use;
// Store gives each session a single writer.
type State struct {
	max      int
	messages []llm.Message
}

// NewState creates an empty State holding at most max messages. A max below
// one uses DefaultWindow.
func NewState(max int) *State {
	if max < 1 {
		max = DefaultWindow
	}
	return &State{max: max, messages: make([]llm.Message, 0, max)}
}

// AppendUser records a user message.
func (s *State) AppendUser(text string) {
	s.Append(llm.UserMessage(text))
}

// AppendAssistant records an assistant message.
func (s *State) AppendAssistant(text string) {
	s.Append(llm.AssistantMessage(text))
}

// Append records messages in order, evicting from the front on overflow.
func (s *State) Append(msgs ...llm.Message) {
	for _, m := range msgs {
		s.messages = append(s.messages, m.Clone())
	}
	if over := len(s.messages) - s.max; over > 0 {
		// Shift into a fresh slice so evicted messages can be collected.
		kept := make([]llm.Message, s.max, s.max)
		copy(kept, s.messages[over:])
		s.messages = kept
	}
}

// Snapshot returns a copy of the current messages, oldest first.
func (s *State) Snapshot() []llm.Message {
	out := make([]llm.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages held.
func (s *State) Len() int {
	return len(s.messages)
}

// Max returns the window size.
func (s *State) Max() int {
	return s.max
}
