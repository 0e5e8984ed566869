package reconcile

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/asta/histd/internal/history"
	"github.com/asta/histd/internal/storage"
)

type mockPruner struct {
	mu      sync.Mutex
	users   []int
	usersFn func() ([]int, error)
	pruneFn func(userID int) (int, error)
	calls   []int
}

func (m *mockPruner) IndexedUsers(ctx context.Context) ([]int, error) {
	if m.usersFn != nil {
		return m.usersFn()
	}
	return m.users, nil
}

func (m *mockPruner) PruneIndex(ctx context.Context, userID int) (int, error) {
	m.mu.Lock()
	m.calls = append(m.calls, userID)
	m.mu.Unlock()
	return m.pruneFn(userID)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunOnce_PrunesDanglingEntries(t *testing.T) {
	store := openTestStore(t)
	svc := history.NewService(store, history.Options{})
	ctx := context.Background()

	a, _ := svc.Save(ctx, history.Record{Title: "a", UserID: history.UserID(1)})
	b, _ := svc.Save(ctx, history.Record{Title: "b", UserID: history.UserID(2)})
	store.LPush(ctx, "user:history:list:1", "HIST_0_gone1")
	store.LPush(ctx, "user:history:list:2", "HIST_0_gone2")
	store.LPush(ctx, "user:history:list:2", "HIST_0_gone3")
	// An orphaned record is left alone.
	orphan, _ := svc.Save(ctx, history.Record{Title: "orphan"})

	w := NewWorker(svc, time.Minute)
	n, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 3 {
		t.Errorf("pruned = %d, want 3", n)
	}

	for user, want := range map[string][]string{
		"user:history:list:1": {a.ID},
		"user:history:list:2": {b.ID},
	} {
		got, _ := store.LRange(ctx, user, 0, -1)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s = %v, want %v", user, got, want)
		}
	}
	if svc.GetByID(ctx, orphan.ID) == nil {
		t.Error("orphaned record should not be touched")
	}

	n, err = w.RunOnce(ctx)
	if err != nil || n != 0 {
		t.Errorf("second RunOnce = %d, %v; want 0, nil", n, err)
	}
}

func TestRunOnce_ContinuesPastFailures(t *testing.T) {
	p := &mockPruner{
		users: []int{1, 2, 3},
		pruneFn: func(userID int) (int, error) {
			if userID == 2 {
				return 0, errors.New("store unavailable")
			}
			return userID, nil
		},
	}

	n, err := NewWorker(p, time.Minute).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 4 {
		t.Errorf("pruned = %d, want 4", n)
	}
	if len(p.calls) != 3 {
		t.Errorf("PruneIndex called %d times, want 3", len(p.calls))
	}
}

func TestRunOnce_UsersError(t *testing.T) {
	boom := errors.New("boom")
	p := &mockPruner{usersFn: func() ([]int, error) { return nil, boom }}

	_, err := NewWorker(p, time.Minute).RunOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestRunOnce_CancelledContext(t *testing.T) {
	p := &mockPruner{
		users:   []int{1, 2},
		pruneFn: func(int) (int, error) { return 1, nil },
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewWorker(p, time.Minute).RunOnce(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(p.calls) != 0 {
		t.Errorf("PruneIndex called %d times after cancel", len(p.calls))
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	swept := make(chan struct{}, 10)
	p := &mockPruner{
		usersFn: func() ([]int, error) {
			select {
			case swept <- struct{}{}:
			default:
			}
			return nil, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewWorker(p, 10*time.Millisecond).Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-swept:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not sweep")
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewWorker_DefaultInterval(t *testing.T) {
	w := NewWorker(&mockPruner{}, 0)
	if w.interval != 10*time.Minute {
		t.Errorf("interval = %v, want 10m", w.interval)
	}
}
