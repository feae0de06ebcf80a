package repo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"topup-bot/internal/logging"
)

type failingBackend struct {
	doc   *Document
	saves int
	err   error
}

func (b *failingBackend) Name() string                            { return "fake" }
func (b *failingBackend) Load(context.Context) (*Document, error) { return b.doc, nil }
func (b *failingBackend) Close() error                            { return nil }
func (b *failingBackend) Save(context.Context, *Document) error {
	b.saves++
	return b.err
}

func TestFileBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "data.json")
	backend, err := NewFileBackend(path)
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}

	doc, err := backend.Load(ctx)
	if err != nil {
		t.Fatalf("Load() on missing file error = %v", err)
	}
	if doc.Cursors == nil || doc.ProfileEditRequests == nil {
		t.Fatal("expected initialised maps on empty document")
	}

	p := doc.EnsureProfile("4000001")
	p.Balance = decimal.NewFromInt(1500)
	doc.Cursors["balance:abc"] = 42
	doc.ProfileEditRequests["77"] = "4000001"
	if err := backend.Save(ctx, doc); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := backend.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got := loaded.FindProfile("4000001")
	if got == nil || !got.Balance.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("profile not restored: %+v", got)
	}
	if loaded.Cursors["balance:abc"] != 42 {
		t.Fatalf("cursor not restored: %v", loaded.Cursors)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the data file, temp files leaked: %v", entries)
	}
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, err := Open(ctx, OpenConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "topup.db")}, logging.Discard())
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	defer backend.Close()

	doc := NewDocument()
	doc.Block("4000009")
	if err := backend.Save(ctx, doc); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	doc.Block("4000010")
	if err := backend.Save(ctx, doc); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	loaded, err := backend.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !loaded.IsBlocked("4000009") || !loaded.IsBlocked("4000010") {
		t.Fatalf("blocked list not restored: %v", loaded.Blocked)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), OpenConfig{Driver: "mongo"}, logging.Discard())
	if !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("Open() error = %v, want ErrUnknownDriver", err)
	}
}

func TestStoreUpdateSkipsPersistOnError(t *testing.T) {
	backend := &failingBackend{doc: NewDocument()}
	store, err := NewStore(context.Background(), backend, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	wantErr := errors.New("validation")
	err = store.Update(context.Background(), func(doc *Document) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("Update() error = %v, want %v", err, wantErr)
	}
	if backend.saves != 0 {
		t.Fatalf("expected no persist, got %d", backend.saves)
	}

	if err := store.Update(context.Background(), func(doc *Document) error {
		doc.EnsureProfile("1234567")
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if backend.saves != 1 {
		t.Fatalf("expected one persist, got %d", backend.saves)
	}
}

func TestStorePersistErrorIsReturned(t *testing.T) {
	backend := &failingBackend{doc: NewDocument(), err: errors.New("disk full")}
	store, err := NewStore(context.Background(), backend, logging.Discard(), nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := store.Persist(context.Background()); err == nil {
		t.Fatal("expected persist error")
	}
}

func TestNextRecordIDIsStrictlyIncreasing(t *testing.T) {
	doc := NewDocument()
	now := time.UnixMilli(1_700_000_000_000)
	first := doc.NextRecordID(now)
	doc.PrependOrder(&Order{ID: first})
	second := doc.NextRecordID(now)
	if second <= first {
		t.Fatalf("NextRecordID() = %d, want > %d", second, first)
	}
	doc.PrependCharge(&Charge{ID: second})
	if third := doc.NextRecordID(now); third <= second {
		t.Fatalf("NextRecordID() = %d, want > %d", third, second)
	}
}

func TestUnblockRemovesOnlyTarget(t *testing.T) {
	doc := NewDocument()
	doc.Block("1")
	doc.Block("2")
	if doc.Block("1") {
		t.Fatal("Block() on existing entry should report false")
	}
	if !doc.Unblock("1") {
		t.Fatal("Unblock() should report removal")
	}
	if doc.IsBlocked("1") || !doc.IsBlocked("2") {
		t.Fatalf("unexpected block list %v", doc.Blocked)
	}
}
