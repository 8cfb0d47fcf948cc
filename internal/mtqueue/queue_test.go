package mtqueue

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func newTestQueue(t *testing.T, queueSize int) *Queue {
	t.Helper()
	cfg := NewConfig(WithQueueSize(queueSize), WithStatusRefresh(10))
	q, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func objectPayload(t *testing.T, v map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

// TestPushPopFIFO exercises §8 P3/scenario 3: messages for a kind come
// back out in the order they were pushed.
func TestPushPopFIFO(t *testing.T) {
	q := newTestQueue(t, minQueueSize)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := Message{Kind: Stateless, ModuleName: "mod", Payload: objectPayload(t, map[string]any{"seq": i})}
		n, err := q.Push(ctx, msg, false)
		if err != nil {
			t.Fatalf("Push: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 item persisted for an object payload, got %d", n)
		}
	}

	for i := 0; i < 3; i++ {
		got, err := q.GetNext(ctx, Stateless, nil, nil)
		if err != nil {
			t.Fatalf("GetNext: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(got.Payload, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if int(decoded["seq"].(float64)) != i {
			t.Fatalf("expected seq %d at position %d, got %v", i, i, decoded["seq"])
		}
		ok, err := q.Pop(ctx, Stateless, nil, nil)
		if err != nil || !ok {
			t.Fatalf("Pop: ok=%v err=%v", ok, err)
		}
	}
}

// TestPopIdempotentOnEmpty exercises §8 P5: popping an empty kind reports
// no row removed rather than erroring.
func TestPopIdempotentOnEmpty(t *testing.T) {
	q := newTestQueue(t, minQueueSize)
	ctx := context.Background()

	ok, err := q.Pop(ctx, Command, nil, nil)
	if err != nil {
		t.Fatalf("Pop on empty queue: %v", err)
	}
	if ok {
		t.Fatal("expected Pop on an empty kind to report false")
	}

	msg, err := q.GetNext(ctx, Command, nil, nil)
	if err != nil {
		t.Fatalf("GetNext on empty queue: %v", err)
	}
	if msg.Kind != Command || string(msg.Payload) != "{}" {
		t.Fatalf("expected the null-message sentinel, got %+v", msg)
	}
}

// TestArrayPayloadCountsPerElement exercises §4.6's counting rule: an
// array payload persists one item per element.
func TestArrayPayloadCountsPerElement(t *testing.T) {
	q := newTestQueue(t, minQueueSize)
	ctx := context.Background()

	payload, err := json.Marshal([]map[string]any{{"a": 1}, {"a": 2}, {"a": 3}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	n, err := q.Push(ctx, Message{Kind: Stateful, Payload: payload}, false)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 items persisted for a 3-element array, got %d", n)
	}

	stored, err := q.SizePerType(ctx, Stateful)
	if err != nil {
		t.Fatalf("SizePerType: %v", err)
	}
	if stored != 3 {
		t.Fatalf("expected 3 stored items, got %d", stored)
	}
}

// TestPushNonBlockingWhenFull exercises §8 scenario 4: a non-waiting push
// against a full queue returns 0 without blocking or erroring.
func TestPushNonBlockingWhenFull(t *testing.T) {
	q := newTestQueue(t, minQueueSize)
	ctx := context.Background()

	if _, err := q.Push(ctx, Message{Kind: Stateless, Payload: objectPayload(t, map[string]any{"n": 1})}, false); err != nil {
		t.Fatalf("fill push: %v", err)
	}
	q.cfg.QueueSize = 1 // shrink capacity to force the next push to be rejected

	n, err := q.Push(ctx, Message{Kind: Stateless, Payload: objectPayload(t, map[string]any{"n": 2})}, false)
	if err != nil {
		t.Fatalf("Push at capacity: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 items persisted when the queue is full, got %d", n)
	}
}

// TestPushAwaitableUnblocksOnPop exercises §8 scenario 5: a cooperative
// push blocked on a full queue proceeds once a pop frees space.
func TestPushAwaitableUnblocksOnPop(t *testing.T) {
	q := newTestQueue(t, minQueueSize)
	ctx := context.Background()

	if _, err := q.Push(ctx, Message{Kind: Command, Payload: objectPayload(t, map[string]any{"n": 1})}, false); err != nil {
		t.Fatalf("fill push: %v", err)
	}
	q.cfg.QueueSize = 1

	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := q.PushAwaitable(ctx, Message{Kind: Command, Payload: objectPayload(t, map[string]any{"n": 2})})
		if err != nil {
			t.Errorf("PushAwaitable: %v", err)
		}
		if n != 1 {
			t.Errorf("expected PushAwaitable to persist 1 item once space freed, got %d", n)
		}
	}()

	select {
	case <-done:
		t.Fatal("PushAwaitable returned before space was freed")
	case <-time.After(50 * time.Millisecond):
	}

	ok, err := q.Pop(ctx, Command, nil, nil)
	if err != nil || !ok {
		t.Fatalf("Pop to free space: ok=%v err=%v", ok, err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PushAwaitable did not unblock after Pop freed space")
	}
}

// TestPushAwaitableRespectsCancellation checks that a cooperative push
// against a permanently full queue returns once its context is cancelled,
// rather than blocking forever.
func TestPushAwaitableRespectsCancellation(t *testing.T) {
	q := newTestQueue(t, minQueueSize)
	ctx := context.Background()

	if _, err := q.Push(ctx, Message{Kind: Command, Payload: objectPayload(t, map[string]any{"n": 1})}, false); err != nil {
		t.Fatalf("fill push: %v", err)
	}
	q.cfg.QueueSize = 1

	cancelCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()

	_, err := q.PushAwaitable(cancelCtx, Message{Kind: Command, Payload: objectPayload(t, map[string]any{"n": 2})})
	if err == nil {
		t.Fatal("expected PushAwaitable to return an error once its context was cancelled")
	}
}

// TestGetNextBytesAwaitableWaitsForQuantity checks that the awaitable
// reader blocks until enough messages accumulate, then returns them all
// at once.
func TestGetNextBytesAwaitableWaitsForQuantity(t *testing.T) {
	q := newTestQueue(t, minQueueSize)
	ctx := context.Background()

	if _, err := q.Push(ctx, Message{Kind: Stateful, Payload: objectPayload(t, map[string]any{"n": 1})}, false); err != nil {
		t.Fatalf("push: %v", err)
	}

	result := make(chan []Message, 1)
	errCh := make(chan error, 1)
	go func() {
		msgs, err := q.GetNextBytesAwaitable(ctx, Stateful, 2)
		if err != nil {
			errCh <- err
			return
		}
		result <- msgs
	}()

	select {
	case <-result:
		t.Fatal("GetNextBytesAwaitable returned before the second message was pushed")
	case err := <-errCh:
		t.Fatalf("GetNextBytesAwaitable: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := q.Push(ctx, Message{Kind: Stateful, Payload: objectPayload(t, map[string]any{"n": 2})}, false); err != nil {
		t.Fatalf("push second message: %v", err)
	}

	select {
	case msgs := <-result:
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
	case err := <-errCh:
		t.Fatalf("GetNextBytesAwaitable: %v", err)
	case <-time.After(time.Second):
		t.Fatal("GetNextBytesAwaitable did not return after enough messages arrived")
	}
}

// TestSharedCapacityAcrossKinds exercises §3's "total items across all
// kinds <= queue_size" invariant (P4): capacity consumed by one kind
// blocks pushes to another.
func TestSharedCapacityAcrossKinds(t *testing.T) {
	q := newTestQueue(t, minQueueSize)
	ctx := context.Background()
	q.cfg.QueueSize = 1

	n, err := q.Push(ctx, Message{Kind: Stateless, Payload: objectPayload(t, map[string]any{"n": 1})}, false)
	if err != nil || n != 1 {
		t.Fatalf("fill push: n=%d err=%v", n, err)
	}

	full, err := q.IsFull(ctx, Stateful, nil, nil)
	if err != nil {
		t.Fatalf("IsFull: %v", err)
	}
	if !full {
		t.Fatal("expected the queue to report full once shared capacity is exhausted")
	}

	n, err = q.Push(ctx, Message{Kind: Command, Payload: objectPayload(t, map[string]any{"n": 2})}, false)
	if err != nil {
		t.Fatalf("Push against a different kind: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected a push to an unrelated kind to still be rejected by shared capacity, got n=%d", n)
	}
}
