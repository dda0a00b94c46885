package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ewradio/internal/tuning"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "ewradio.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCreateBlobAndLookup(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	in := BlobMetadata{
		ID:           "35e748f1-45ef-4f12-b5e3-f17fe80326b0",
		Kind:         "asset",
		OriginalName: "numbers.ogg",
		ContentType:  "audio/ogg",
		DiskName:     "35e748f1-45ef-4f12-b5e3-f17fe80326b0",
		SizeBytes:    42,
		CreatedAt:    time.UnixMilli(1_700_000_000_000).UTC(),
	}
	if err := st.CreateBlob(context.Background(), in); err != nil {
		t.Fatalf("create blob metadata: %v", err)
	}

	got, err := st.BlobByID(context.Background(), in.ID)
	if err != nil {
		t.Fatalf("lookup blob metadata: %v", err)
	}
	if got.ID != in.ID || got.Kind != in.Kind {
		t.Fatalf("unexpected blob metadata identity: %#v", got)
	}
	if got.OriginalName != in.OriginalName || got.ContentType != in.ContentType {
		t.Fatalf("unexpected blob metadata content fields: %#v", got)
	}
	if got.DiskName != in.DiskName || got.SizeBytes != in.SizeBytes {
		t.Fatalf("unexpected blob metadata disk fields: %#v", got)
	}
	if !got.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("expected created_at=%s got=%s", in.CreatedAt, got.CreatedAt)
	}
}

func TestBlobByIDNotFound(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	if _, err := st.BlobByID(context.Background(), "missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound, got %v", err)
	}
	if err := st.CreateBlob(context.Background(), BlobMetadata{ID: "x"}); err == nil {
		t.Fatal("expected validation error for incomplete metadata")
	}
}

func TestScenarioRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	start := tuning.Config{CenterFrequency: 145.5e6, Bandwidth: 12.5e3, MinLevel: -90, MaxLevel: -10}
	sc := Scenario{
		Name:   "exercise-1",
		Tuning: &start,
		Catalog: []tuning.Signal{
			{ID: "net-a", Frequency: 145.5e6, Bandwidth: 12.5e3, AssetPath: "net-a.wav", Active: true,
				LevelWindow: tuning.LevelWindow{Min: -70, Max: -30}},
			{ID: "jam", Frequency: 145.6e6, Bandwidth: 50e3, AssetPath: "jam.wav", Jamming: true, Priority: 2},
		},
		UpdatedAt: time.UnixMilli(1_700_000_000_000).UTC(),
	}
	if err := st.SaveScenario(ctx, sc); err != nil {
		t.Fatalf("save scenario: %v", err)
	}

	got, err := st.Scenario(ctx, "exercise-1")
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	if got.Tuning == nil || *got.Tuning != start {
		t.Fatalf("tuning: %+v", got.Tuning)
	}
	if len(got.Catalog) != 2 || got.Catalog[1] != sc.Catalog[1] || got.Catalog[0] != sc.Catalog[0] {
		t.Fatalf("catalog: %+v", got.Catalog)
	}
	if !got.UpdatedAt.Equal(sc.UpdatedAt) {
		t.Fatalf("updated_at: %s", got.UpdatedAt)
	}

	// Upsert replaces the catalog and can clear the tuning.
	sc.Tuning = nil
	sc.Catalog = sc.Catalog[:1]
	if err := st.SaveScenario(ctx, sc); err != nil {
		t.Fatalf("re-save scenario: %v", err)
	}
	got, err = st.Scenario(ctx, "exercise-1")
	if err != nil {
		t.Fatalf("reload scenario: %v", err)
	}
	if got.Tuning != nil || len(got.Catalog) != 1 {
		t.Fatalf("after upsert: %+v", got)
	}
}

func TestListAndDeleteScenarios(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"bravo", "alpha"} {
		if err := st.SaveScenario(ctx, Scenario{Name: name}); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}
	list, err := st.ListScenarios(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "bravo" {
		t.Fatalf("list order: %+v", list)
	}
	if list[0].Catalog == nil {
		t.Fatal("empty catalog should decode as an empty slice")
	}

	if err := st.DeleteScenario(ctx, "alpha"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.DeleteScenario(ctx, "alpha"); !errors.Is(err, ErrScenarioNotFound) {
		t.Fatalf("second delete: expected ErrScenarioNotFound, got %v", err)
	}
	if _, err := st.Scenario(ctx, "alpha"); !errors.Is(err, ErrScenarioNotFound) {
		t.Fatalf("lookup deleted: expected ErrScenarioNotFound, got %v", err)
	}
}

func TestSaveScenarioRejectsInvalidCatalog(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	dup := []tuning.Signal{{ID: "a", Bandwidth: 1}, {ID: "a", Bandwidth: 1}}
	err := st.SaveScenario(context.Background(), Scenario{Name: "bad", Catalog: dup})
	if !errors.Is(err, tuning.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
	if err := st.SaveScenario(context.Background(), Scenario{Name: "  "}); err == nil {
		t.Fatal("expected error for blank name")
	}
}
