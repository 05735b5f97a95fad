// ABOUTME: Tests for the bounded conversation window.
// ABOUTME: Checks FIFO eviction, the size bound and snapshot isolation.

package conversation

import (
	"fmt"
	"testing"

	"github.com/2389-research/buddy/llm"
)

func TestStateNeverExceedsMax(t *testing.T) {
	for _, max := range []int{1, 2, 5, 20} {
		t.Run(fmt.Sprintf("max_%d", max), func(t *testing.T) {
			s := NewState(max)
			for i := 0; i < 3*max+1; i++ {
				if i%2 == 0 {
					s.AppendUser(fmt.Sprintf("u%d", i))
				} else {
					s.AppendAssistant(fmt.Sprintf("a%d", i))
				}
				if s.Len() > max {
					t.Fatalf("after %d appends Len() = %d > %d", i+1, s.Len(), max)
				}
			}
			if s.Len() != max {
				t.Errorf("Len() = %d, want %d", s.Len(), max)
			}
		})
	}
}

func TestStateEvictsOldestFirst(t *testing.T) {
	s := NewState(3)
	s.AppendUser("one")
	s.AppendAssistant("two")
	s.AppendUser("three")
	s.AppendAssistant("four")

	snap := s.Snapshot()
	want := []string{"two", "three", "four"}
	for i, m := range snap {
		if m.Content != want[i] {
			t.Errorf("snap[%d] = %q, want %q", i, m.Content, want[i])
		}
	}
	if snap[0].Role != llm.RoleAssistant {
		t.Errorf("snap[0].Role = %q", snap[0].Role)
	}
}

func TestStateBatchLargerThanWindow(t *testing.T) {
	s := NewState(2)
	s.Append(llm.UserMessage("a"), llm.UserMessage("b"), llm.UserMessage("c"), llm.UserMessage("d"))
	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].Content != "c" || snap[1].Content != "d" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestStateSnapshotIsCopy(t *testing.T) {
	s := NewState(5)
	s.Append(llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "help"}}})
	snap := s.Snapshot()
	snap[0].Content = "mutated"
	snap[0].ToolCalls[0].Name = "mutated"
	snap = append(snap, llm.UserMessage("extra"))

	again := s.Snapshot()
	if len(again) != 1 {
		t.Fatalf("Len = %d, want 1", len(again))
	}
	if again[0].Content != "" || again[0].ToolCalls[0].Name != "help" {
		t.Errorf("state changed through snapshot: %+v", again[0])
	}
}

func TestStateDefaultWindow(t *testing.T) {
	if got := NewState(0).Max(); got != DefaultWindow {
		t.Errorf("Max() = %d, want %d", got, DefaultWindow)
	}
}
