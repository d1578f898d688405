package loop

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/matanguihanbenson/agos-app/internal/firestore"
	"github.com/matanguihanbenson/agos-app/internal/fsval"
	"github.com/matanguihanbenson/agos-app/internal/lifecycle"
	"github.com/matanguihanbenson/agos-app/internal/telemetry"
)

type fakeLocker struct {
	busy     bool
	acquires int
	releases int
}

func (f *fakeLocker) TryAcquire(context.Context, time.Duration) (bool, error) {
	f.acquires++
	return !f.busy, nil
}

func (f *fakeLocker) Release(context.Context) error {
	f.releases++
	return nil
}

type memDocs struct {
	docs     map[string]map[string]fsval.Value
	queries  []string
	queryErr error
}

func newMemDocs() *memDocs {
	return &memDocs{docs: map[string]map[string]fsval.Value{}}
}

func (m *memDocs) DocName(collection, id string) string {
	return "projects/test/databases/(default)/documents/" + collection + "/" + id
}

func (m *memDocs) put(collection, id string, fields map[string]fsval.Value) {
	m.docs[m.DocName(collection, id)] = fields
}

func (m *memDocs) QueryByField(_ context.Context, collection, field, value string, limit int) ([]firestore.Document, error) {
	m.queries = append(m.queries, value)
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	prefix := m.DocName(collection, "")
	names := make([]string, 0, len(m.docs))
	for name := range m.docs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	var out []firestore.Document
	for _, name := range names {
		if len(out) >= limit {
			break
		}
		if v, _ := fsval.GetString(m.docs[name], field); v != value {
			continue
		}
		out = append(out, firestore.Document{Name: name, Fields: m.docs[name]})
	}
	return out, nil
}

func (m *memDocs) Get(_ context.Context, collection, id string) (*firestore.Document, error) {
	fields, ok := m.docs[m.DocName(collection, id)]
	if !ok {
		return nil, firestore.ErrNotFound
	}
	return &firestore.Document{Name: m.DocName(collection, id), Fields: fields}, nil
}

func (m *memDocs) Create(_ context.Context, collection, id string, fields map[string]fsval.Value) (*firestore.Document, error) {
	m.docs[m.DocName(collection, id)] = fields
	return &firestore.Document{Name: m.DocName(collection, id), Fields: fields}, nil
}

func (m *memDocs) Patch(_ context.Context, name string, fields map[string]fsval.Value, mask []string) (*firestore.Document, error) {
	stored, ok := m.docs[name]
	if !ok {
		stored = map[string]fsval.Value{}
		m.docs[name] = stored
	}
	for _, p := range mask {
		if v, ok := fields[p]; ok {
			stored[p] = v
		}
	}
	return &firestore.Document{Name: name, Fields: stored}, nil
}

type noopTree struct{}

func (noopTree) Patch(context.Context, string, map[string]any) error { return nil }

type noopAgg struct{}

func (noopAgg) Summarize(context.Context, string, string) telemetry.Summary {
	return telemetry.Summary{Source: telemetry.SourceNone}
}

func newTestLoop(lock Locker, docs *memDocs) *Loop {
	engine := lifecycle.NewEngine(docs, noopTree{}, noopAgg{}, lifecycle.Options{})
	runner := lifecycle.NewRunner(docs, 0)
	return New(lock, runner, engine, Options{LockWait: time.Millisecond})
}

func TestTickBusySkipsBothStores(t *testing.T) {
	lock := &fakeLocker{busy: true}
	docs := newMemDocs()
	l := newTestLoop(lock, docs)

	res, err := l.Tick(context.Background())
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil result on busy tick, got %+v", res)
	}
	if len(docs.queries) != 0 {
		t.Fatalf("busy tick must not query, got %v", docs.queries)
	}
	if lock.releases != 0 {
		t.Fatalf("must not release a lock it never held, got %d releases", lock.releases)
	}
}

func TestTickRunsBothBatchesInOrder(t *testing.T) {
	lock := &fakeLocker{}
	docs := newMemDocs()

	now := time.Now().UTC()
	docs.put(lifecycle.CollectionSchedules, "sch-ripe", map[string]fsval.Value{
		lifecycle.FieldScheduleStatus:  fsval.String(lifecycle.StatusScheduled),
		lifecycle.FieldScheduleStartAt: fsval.Timestamp(now.Add(-time.Minute)),
		lifecycle.FieldScheduleEndAt:   fsval.Timestamp(now.Add(time.Hour)),
	})
	docs.put(lifecycle.CollectionSchedules, "sch-expired", map[string]fsval.Value{
		lifecycle.FieldScheduleStatus: fsval.String(lifecycle.StatusActive),
		lifecycle.FieldScheduleEndAt:  fsval.Timestamp(now.Add(-time.Minute)),
	})

	l := newTestLoop(lock, docs)
	res, err := l.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(docs.queries) != 2 || docs.queries[0] != lifecycle.StatusScheduled || docs.queries[1] != lifecycle.StatusActive {
		t.Fatalf("expected scheduled then active batch, got %v", docs.queries)
	}
	if res.Promoted != 1 {
		t.Fatalf("expected 1 promotion, got %d", res.Promoted)
	}
	// The completion batch processes both active rows: the expired one
	// transitions and the freshly promoted one is a clean skip.
	if res.Completed != 2 || res.CompleteFailed != 0 {
		t.Fatalf("unexpected completion counts %+v", res)
	}
	if lock.acquires != 1 || lock.releases != 1 {
		t.Fatalf("expected one acquire and one release, got %d/%d", lock.acquires, lock.releases)
	}

	expired, err := docs.Get(context.Background(), lifecycle.CollectionSchedules, "sch-expired")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st, _ := fsval.GetString(expired.Fields, lifecycle.FieldScheduleStatus); st != lifecycle.StatusCompleted {
		t.Fatalf("expected expired schedule completed, got %q", st)
	}
	promoted, err := docs.Get(context.Background(), lifecycle.CollectionSchedules, "sch-ripe")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st, _ := fsval.GetString(promoted.Fields, lifecycle.FieldScheduleStatus); st != lifecycle.StatusActive {
		t.Fatalf("expected promoted schedule still active, got %q", st)
	}
}

func TestTickReleasesLockAfterBatchError(t *testing.T) {
	lock := &fakeLocker{}
	docs := newMemDocs()
	docs.queryErr = errors.New("unavailable")
	l := newTestLoop(lock, docs)

	res, err := l.Tick(context.Background())
	if err == nil {
		t.Fatalf("expected batch error")
	}
	if errors.Is(err, ErrBusy) {
		t.Fatalf("a batch failure is not a busy skip")
	}
	if res == nil {
		t.Fatalf("expected partial result alongside the error")
	}
	if lock.releases != 1 {
		t.Fatalf("lock must be released after a failed pass, got %d releases", lock.releases)
	}
}
