package entity

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"fleetcore/internal/infra/persistence/memory"
	"fleetcore/pkg/domain"
)

type note struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Count int      `json:"count"`
	Tags  []string `json:"tags"`
}

func (n note) RecordID() string { return n.ID }

func (n note) WithRecordID(id string) note {
	n.ID = id
	return n
}

func newNoteStore(t *testing.T, seed ...note) (*Store[note], *memory.Store) {
	t.Helper()
	backend := memory.NewStore()
	seq := 0
	store, err := New(backend, Descriptor[note]{Name: "note", Zero: note{Tags: []string{}}, Seed: seed},
		WithRegistry(NewRegistry()),
		WithIDGenerator(IDGeneratorFunc(func() string {
			seq++
			return fmt.Sprintf("n-%03d", seq)
		})),
	)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	return store, backend
}

func TestCreateGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newNoteStore(t)
	created, err := store.Create(ctx, note{ID: "a", Title: "first", Tags: []string{"x"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got, created) {
		t.Fatalf("expected %+v, got %+v", created, got)
	}
	ok, err := store.Exists(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("expected indexed record: %v %v", ok, err)
	}
}

func TestCreateAssignsGeneratedID(t *testing.T) {
	ctx := context.Background()
	store, _ := newNoteStore(t)
	rec, err := store.Create(ctx, note{Title: "anon"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID != "n-001" {
		t.Fatalf("expected generated id, got %q", rec.ID)
	}
	if rec.Tags == nil {
		t.Fatalf("expected zero template tags to survive decode")
	}
}

func TestCreateRejectsDuplicateAndBadIDs(t *testing.T) {
	ctx := context.Background()
	store, _ := newNoteStore(t)
	if _, err := store.Create(ctx, note{ID: "a"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := store.Create(ctx, note{ID: "a", Title: "again"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var ee *domain.EntityError
	if !errors.As(err, &ee) || ee.Op != "create" || ee.ID != "a" || ee.Entity != "note" {
		t.Fatalf("expected entity error context, got %#v", err)
	}
	for _, id := range []string{"a/b", " a", ".", ".."} {
		if _, err := store.Create(ctx, note{ID: id}); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("id %q: expected invalid argument, got %v", id, err)
		}
	}
	got, _ := store.Get(ctx, "a")
	if got.Title != "" {
		t.Fatalf("duplicate create must not overwrite, got %+v", got)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	store, _ := newNoteStore(t)
	if _, err := store.Get(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := newNoteStore(t)
	if _, err := store.Create(ctx, note{ID: "a"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	deleted, err := store.Delete(ctx, "a")
	if err != nil || !deleted {
		t.Fatalf("first delete: %v %v", deleted, err)
	}
	deleted, err = store.Delete(ctx, "a")
	if err != nil || deleted {
		t.Fatalf("second delete should report false: %v %v", deleted, err)
	}
	if _, err := store.Get(ctx, "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if ok, _ := store.Exists(ctx, "a"); ok {
		t.Fatalf("index still holds deleted id")
	}
	// The id is free again.
	if _, err := store.Create(ctx, note{ID: "a"}); err != nil {
		t.Fatalf("recreate: %v", err)
	}
}

func TestMutateReplacesRecord(t *testing.T) {
	ctx := context.Background()
	store, _ := newNoteStore(t)
	if _, err := store.Create(ctx, note{ID: "a", Count: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	out, err := store.Mutate(ctx, "a", func(n note) (note, error) {
		n.Count++
		n.Tags = append(n.Tags, "bumped")
		return n, nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	got, _ := store.Get(ctx, "a")
	if !reflect.DeepEqual(got, out) || got.Count != 2 {
		t.Fatalf("unexpected stored value %+v (returned %+v)", got, out)
	}
}

func TestMutateRejectsIDChangeAndTransformErrors(t *testing.T) {
	ctx := context.Background()
	store, _ := newNoteStore(t)
	if _, err := store.Create(ctx, note{ID: "a", Count: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := store.Mutate(ctx, "a", func(n note) (note, error) {
		n.ID = "b"
		n.Count = 99
		return n, nil
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	boom := errors.New("boom")
	if _, err := store.Mutate(ctx, "a", func(n note) (note, error) { return n, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected transform error, got %v", err)
	}
	got, _ := store.Get(ctx, "a")
	if got.Count != 1 {
		t.Fatalf("rejected mutations must not write, got %+v", got)
	}
	if _, err := store.Get(ctx, "b"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("id change leaked a record: %v", err)
	}
	if _, err := store.Mutate(ctx, "ghost", func(n note) (note, error) { return n, nil }); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentMutateLosesNoUpdate(t *testing.T) {
	ctx := context.Background()
	store, _ := newNoteStore(t)
	if _, err := store.Create(ctx, note{ID: "a", Count: 70}); err != nil {
		t.Fatalf("create: %v", err)
	}
	var wg sync.WaitGroup
	for _, target := range []int{90, 70} {
		wg.Add(1)
		go func(target int) {
			defer wg.Done()
			_, err := store.Mutate(ctx, "a", func(n note) (note, error) {
				n.Count = max(n.Count, target)
				return n, nil
			})
			if err != nil {
				t.Errorf("mutate: %v", err)
			}
		}(target)
	}
	wg.Wait()
	got, _ := store.Get(ctx, "a")
	if got.Count != 90 {
		t.Fatalf("expected 90 after concurrent max, got %d", got.Count)
	}

	const workers = 32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Mutate(ctx, "a", func(n note) (note, error) {
				n.Count++
				return n, nil
			})
		}()
	}
	wg.Wait()
	got, _ = store.Get(ctx, "a")
	if got.Count != 90+workers {
		t.Fatalf("lost update: expected %d, got %d", 90+workers, got.Count)
	}
}

func TestListTraversesEveryIDOnceForAnyLimit(t *testing.T) {
	ctx := context.Background()
	store, _ := newNoteStore(t)
	var want []string
	for i := 0; i < 11; i++ {
		rec, err := store.Create(ctx, note{Title: fmt.Sprint(i)})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		want = append(want, rec.ID)
	}
	for limit := 1; limit <= 12; limit++ {
		var got []string
		cursor := ""
		pages := 0
		for {
			page, err := store.List(ctx, ListOptions{Limit: limit, Cursor: cursor})
			if err != nil {
				t.Fatalf("limit %d: %v", limit, err)
			}
			pages++
			if len(page.Items) > limit {
				t.Fatalf("limit %d: page of %d", limit, len(page.Items))
			}
			for _, n := range page.Items {
				got = append(got, n.ID)
			}
			if page.Next == nil {
				break
			}
			cursor = *page.Next
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("limit %d: expected %v, got %v", limit, want, got)
		}
		if wantPages := (len(want) + limit - 1) / limit; pages != wantPages {
			t.Fatalf("limit %d: expected %d pages, got %d", limit, wantPages, pages)
		}
	}
}

func TestListDefaultsAndEmptyStore(t *testing.T) {
	ctx := context.Background()
	store, _ := newNoteStore(t)
	page, err := store.List(ctx, ListOptions{})
	if err != nil || len(page.Items) != 0 || page.Next != nil {
		t.Fatalf("unexpected empty page %+v %v", page, err)
	}
	if (ListOptions{}).limit(DefaultLimit) != 50 || (ListOptions{Limit: 10_000}).limit(DefaultLimit) != MaxLimit {
		t.Fatalf("unexpected limit clamping")
	}
}

func TestListRejectsInvalidCursors(t *testing.T) {
	ctx := context.Background()
	store, _ := newNoteStore(t)
	foreign := encodeCursor(cursorToken{Type: "equipment", After: "x", Offset: 1})
	negative := encodeCursor(cursorToken{Type: "note", After: "x", Offset: -1})
	empty := encodeCursor(cursorToken{Type: "note", Offset: 1})
	for _, c := range []string{"%%%", "bm90LWpzb24", foreign, negative, empty} {
		_, err := store.List(ctx, ListOptions{Cursor: c})
		if !errors.Is(err, domain.ErrInvalidCursor) || !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("cursor %q: expected invalid cursor, got %v", c, err)
		}
	}
}

func TestListResumesAfterAnchorDeleted(t *testing.T) {
	ctx := context.Background()
	store, _ := newNoteStore(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := store.Create(ctx, note{ID: id}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	page, err := store.List(ctx, ListOptions{Limit: 2})
	if err != nil || page.Next == nil {
		t.Fatalf("first page: %+v %v", page, err)
	}
	if _, err := store.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rest, err := store.List(ctx, ListOptions{Limit: 2, Cursor: *page.Next})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	var ids []string
	for _, n := range rest.Items {
		ids = append(ids, n.ID)
	}
	// Offset 2 now points at "d"; "c" shifted left past the cursor.
	if !reflect.DeepEqual(ids, []string{"d"}) || rest.Next != nil {
		t.Fatalf("unexpected resume %v next=%v", ids, rest.Next)
	}
}

func TestEnsureSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	seed := []note{{ID: "s1"}, {ID: "s2"}, {ID: "s3"}}
	store, backend := newNoteStore(t, seed...)
	for i := 0; i < 2; i++ {
		if err := store.EnsureSeed(ctx); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	all, err := store.All(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 seeded records, got %d %v", len(all), err)
	}

	// A fresh store over a populated backend leaves it alone.
	again, err := New(backend, Descriptor[note]{Name: "note", Seed: seed}, WithRegistry(NewRegistry()))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := store.Delete(ctx, "s2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := again.EnsureSeed(ctx); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	all, _ = again.All(ctx)
	if len(all) != 2 {
		t.Fatalf("seed must not run on a non-empty index, got %d records", len(all))
	}
}

func TestEnsureSeedRunsOncePerBackend(t *testing.T) {
	ctx := context.Background()
	seed := []note{{ID: "s1"}, {ID: "s2"}}
	store, backend := newNoteStore(t, seed...)
	if err := store.EnsureSeed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, id := range []string{"s1", "s2"} {
		if _, err := store.Delete(ctx, id); err != nil {
			t.Fatalf("delete %s: %v", id, err)
		}
	}
	if _, ok := backend.ExportState()["_seeded/note"]; !ok {
		t.Fatalf("expected seed marker in backend")
	}

	// A new process over the same backend sees an empty index but must not reseed.
	store.Close()
	again, err := New(backend, Descriptor[note]{Name: "note", Seed: seed}, WithRegistry(NewRegistry()))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	if err := again.EnsureSeed(ctx); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if all, _ := again.All(ctx); len(all) != 0 {
		t.Fatalf("emptied type was reseeded: %+v", all)
	}
	report, err := again.Reconcile(ctx)
	if err != nil || report.Changed() {
		t.Fatalf("marker must not be adopted as a record: %+v %v", report, err)
	}
}

func TestEnsureSeedMarksPopulatedBackend(t *testing.T) {
	ctx := context.Background()
	store, backend := newNoteStore(t, note{ID: "s1"})
	if _, err := store.Create(ctx, note{ID: "mine"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.EnsureSeed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok := backend.ExportState()["_seeded/note"]; !ok {
		t.Fatalf("expected marker written for a populated type")
	}
	if ok, _ := store.Exists(ctx, "s1"); ok {
		t.Fatalf("populated type must not receive seed records")
	}
}

func TestDecodeFillsNullCollectionsFromTemplate(t *testing.T) {
	codec, err := NewCodec(note{Tags: []string{}})
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	got, err := codec.Decode([]byte(`{"id":"a","title":"t","tags":null}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Tags == nil || got.Title != "t" {
		t.Fatalf("expected template tags, got %+v", got)
	}
	got, err = codec.Decode([]byte(`{"id":"b","tags":["x"]}`))
	if err != nil || !reflect.DeepEqual(got.Tags, []string{"x"}) {
		t.Fatalf("stored tags must win: %+v %v", got, err)
	}
	if _, err := codec.Decode([]byte(`{"id":`)); err == nil {
		t.Fatalf("expected decode error for truncated payload")
	}
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	reg := NewRegistry()
	backend := memory.NewStore()
	first, err := New(backend, Descriptor[note]{Name: "note"}, WithRegistry(reg))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := New(backend, Descriptor[note]{Name: "note"}, WithRegistry(reg)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected duplicate name conflict, got %v", err)
	}
	first.Close()
	if _, err := New(backend, Descriptor[note]{Name: "note"}, WithRegistry(reg)); err != nil {
		t.Fatalf("released name should be claimable: %v", err)
	}
	for _, name := range []domain.EntityType{"", "a/b", "_index"} {
		if _, err := New(backend, Descriptor[note]{Name: name}, WithRegistry(reg)); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("name %q: expected invalid argument, got %v", name, err)
		}
	}
}

type capRule struct{ limit int }

func (capRule) Name() string { return "count_cap" }

func (r capRule) Evaluate(_ context.Context, change domain.Change[note]) (domain.Result, error) {
	var res domain.Result
	if change.After != nil && change.After.Count > r.limit {
		res.Violations = append(res.Violations, domain.Violation{
			Rule: r.Name(), Severity: domain.SeverityBlock, Message: "count over cap",
			Entity: change.Entity, EntityID: change.ID,
		})
	}
	return res, nil
}

func TestBlockingRulesPreventWrites(t *testing.T) {
	ctx := context.Background()
	store, err := New(memory.NewStore(), Descriptor[note]{
		Name:  "note",
		Rules: domain.NewRulesEngine[note](capRule{limit: 5}),
	}, WithRegistry(NewRegistry()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := store.Create(ctx, note{ID: "a", Count: 9}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected blocked create, got %v", err)
	}
	if _, err := store.Create(ctx, note{ID: "a", Count: 5}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = store.Mutate(ctx, "a", func(n note) (note, error) {
		n.Count = 6
		return n, nil
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) || len(violation.Result.Violations) != 1 {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if got, _ := store.Get(ctx, "a"); got.Count != 5 {
		t.Fatalf("blocked mutate wrote %+v", got)
	}
}

func TestStorageFailuresSurfaceAsUnavailable(t *testing.T) {
	ctx := context.Background()
	store, backend := newNoteStore(t)
	_ = backend.Close()
	if _, err := store.Create(ctx, note{ID: "a"}); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
	if _, err := store.List(ctx, ListOptions{}); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
}
