package hub

import (
	"context"
	"testing"
	"time"
)

func TestOutboundQueueDropsThoughtBeforeToolResult(t *testing.T) {
	q := newOutboundQueue(2)

	if fatal := q.Push(priorityThought, []byte("thought-1"), false); fatal {
		t.Fatal("unexpected fatal on first push")
	}
	if fatal := q.Push(priorityToolResult, []byte("result-1"), false); fatal {
		t.Fatal("unexpected fatal on second push")
	}
	// Queue is full; pushing a third message must evict the thought first.
	if fatal := q.Push(priorityToolResult, []byte("result-2"), false); fatal {
		t.Fatal("unexpected fatal on eviction push")
	}

	ctx := context.Background()
	first, ok := q.Pop(ctx)
	if !ok || string(first) != "result-1" {
		t.Fatalf("expected result-1 to survive, got %q (ok=%v)", first, ok)
	}
	second, ok := q.Pop(ctx)
	if !ok || string(second) != "result-2" {
		t.Fatalf("expected result-2 next, got %q (ok=%v)", second, ok)
	}
}

func TestOutboundQueuePreservesFinalAnswerAsFatal(t *testing.T) {
	q := newOutboundQueue(1)
	q.Push(priorityPreserved, []byte("tool-call"), false)

	fatal := q.Push(priorityPreserved, []byte("final-answer"), true)
	if !fatal {
		t.Fatal("expected a saturated queue of preserved messages to report fatal backpressure for a final_answer")
	}
}

func TestOutboundQueuePopUnblocksOnClose(t *testing.T) {
	q := newOutboundQueue(4)
	done := make(chan struct{})
	go func() {
		_, ok := q.Pop(context.Background())
		if ok {
			t.Error("expected Pop to report closed")
		}
		close(done)
	}()

	q.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Close")
	}
}
