package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"topup-bot/internal/logging"
	"topup-bot/internal/repo"
	"topup-bot/internal/telegram"
)

type countingBackend struct {
	mu    sync.Mutex
	saves int
	last  map[string]int64
}

func (b *countingBackend) Name() string                                 { return "mem" }
func (b *countingBackend) Load(context.Context) (*repo.Document, error) { return repo.NewDocument(), nil }
func (b *countingBackend) Close() error                                 { return nil }
func (b *countingBackend) Save(_ context.Context, doc *repo.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saves++
	b.last = map[string]int64{}
	for k, v := range doc.Cursors {
		b.last[k] = v
	}
	return nil
}

// scriptedTransport replays batches and records the cursor it was asked for.
type scriptedTransport struct {
	mu      sync.Mutex
	batches [][]telegram.Update
	afters  []int64
	err     error
}

func (s *scriptedTransport) GetUpdates(_ context.Context, _ string, after int64, _ time.Duration) ([]telegram.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afters = append(s.afters, after)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

func updates(ids ...int64) []telegram.Update {
	out := make([]telegram.Update, 0, len(ids))
	for _, id := range ids {
		out = append(out, telegram.Update{UpdateID: id, Message: &telegram.Message{MessageID: id, Text: "x"}})
	}
	return out
}

func newPoller(t *testing.T, transport Transport) (*Poller, *repo.Store, *countingBackend) {
	t.Helper()
	backend := &countingBackend{}
	store, err := repo.NewStore(context.Background(), backend, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return New(store, transport, Config{Interval: 5 * time.Millisecond, Wait: time.Second}, logging.Discard(), nil), store, backend
}

func TestPollOnceDispatchesEachUpdateOnce(t *testing.T) {
	transport := &scriptedTransport{batches: [][]telegram.Update{
		updates(12, 10, 11),
		updates(11, 12, 13), // redelivery of already dispatched ids
		nil,
	}}
	p, _, backend := newPoller(t, transport)

	var seen []int64
	bot := Bot{Name: "balance", Token: "T1", Handler: func(_ context.Context, u telegram.Update) error {
		seen = append(seen, u.UpdateID)
		if u.UpdateID == 11 {
			return errors.New("boom")
		}
		return nil
	}}

	for i := 0; i < 3; i++ {
		if _, err := p.PollOnce(context.Background(), bot); err != nil {
			t.Fatalf("PollOnce() error = %v", err)
		}
	}

	want := []int64{10, 11, 12, 13}
	if len(seen) != len(want) {
		t.Fatalf("dispatched %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("dispatched %v, want %v", seen, want)
		}
	}
	if got := backend.last[bot.CursorKey()]; got != 13 {
		t.Fatalf("persisted cursor = %d, want 13", got)
	}
	if backend.saves != 2 {
		t.Fatalf("saves = %d, want one per non-empty batch", backend.saves)
	}
	if transport.afters[0] != 0 || transport.afters[1] != 12 || transport.afters[2] != 13 {
		t.Fatalf("cursors requested = %v", transport.afters)
	}
}

func TestPollOnceTransportErrorKeepsCursor(t *testing.T) {
	transport := &scriptedTransport{err: errors.New("timeout")}
	p, store, backend := newPoller(t, transport)
	bot := Bot{Name: "order", Token: "T2", Handler: func(context.Context, telegram.Update) error { return nil }}
	store.Mutate(func(doc *repo.Document) { doc.Cursors[bot.CursorKey()] = 40 })

	if _, err := p.PollOnce(context.Background(), bot); err == nil {
		t.Fatal("expected transport error")
	}
	var cursor int64
	store.View(func(doc *repo.Document) { cursor = doc.Cursors[bot.CursorKey()] })
	if cursor != 40 || backend.saves != 0 {
		t.Fatalf("cursor = %d saves = %d", cursor, backend.saves)
	}
}

func TestPollOnceRecoversHandlerPanic(t *testing.T) {
	transport := &scriptedTransport{batches: [][]telegram.Update{updates(1, 2)}}
	p, _, backend := newPoller(t, transport)
	var calls int
	bot := Bot{Name: "help", Token: "T3", Handler: func(_ context.Context, u telegram.Update) error {
		calls++
		if u.UpdateID == 1 {
			panic("bad update")
		}
		return nil
	}}
	if _, err := p.PollOnce(context.Background(), bot); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	if calls != 2 || backend.last[bot.CursorKey()] != 2 {
		t.Fatalf("calls = %d cursor = %d", calls, backend.last[bot.CursorKey()])
	}
}

func TestCursorKeyHidesToken(t *testing.T) {
	a := Bot{Name: "order", Token: "123:SECRET"}.CursorKey()
	b := Bot{Name: "order", Token: "123:ROTATED"}.CursorKey()
	if a == b {
		t.Fatal("rotated token must yield a new cursor key")
	}
	if strings.Contains(a, "SECRET") || !strings.HasPrefix(a, "order:") || len(a) != len("order:")+12 {
		t.Fatalf("CursorKey() = %q", a)
	}
}

func TestRunPollsConfiguredBotsUntilCancelled(t *testing.T) {
	transport := &scriptedTransport{batches: [][]telegram.Update{updates(1)}}
	p, _, _ := newPoller(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var once sync.Once
	bot := Bot{Name: "notify", Token: "T4", Handler: func(context.Context, telegram.Update) error {
		once.Do(func() { close(done) })
		return nil
	}}
	unconfigured := Bot{Name: "offers", Handler: bot.Handler}

	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx, bot, unconfigured) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("update was not dispatched")
	}
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
