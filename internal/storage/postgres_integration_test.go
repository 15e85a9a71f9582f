//go:build integration

package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/gallery"
	"github.com/your-org/facegate/internal/models"
)

func setupStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "facegate",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	store, err := NewPostgresStore(ctx, config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		Name:     "facegate",
		User:     "test",
		Password: "test",
		MaxConns: 8,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// A second run is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate again: %v", err)
	}
	return store
}

func enroll(t *testing.T, s *PostgresStore, name string) int64 {
	t.Helper()
	u, err := s.CreateIdentity(context.Background(), models.Identity{Name: name, Email: name + "@example.com"})
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	return u.ID
}

func openRecords(t *testing.T, s *PostgresStore, userID int64) []models.Record {
	t.Helper()
	open := true
	recs, _, err := s.ListRecords(context.Background(), models.RecordFilter{UserID: &userID, Open: &open})
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func TestCheckInCheckOutCycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	alice := enroll(t, s, "alice")

	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	id, created, err := s.CheckIn(ctx, alice, t0, []byte{0xff, 0xd8})
	if err != nil || !created {
		t.Fatalf("CheckIn = %d, %v, %v", id, created, err)
	}

	// Second entry sighting while checked in is a no-op.
	id2, created, err := s.CheckIn(ctx, alice, t0.Add(time.Minute), nil)
	if err != nil || created || id2 != id {
		t.Fatalf("repeat CheckIn = %d, %v, %v", id2, created, err)
	}

	closedID, closed, err := s.CheckOut(ctx, alice, t0.Add(8*time.Hour))
	if err != nil || !closed || closedID != id {
		t.Fatalf("CheckOut = %d, %v, %v", closedID, closed, err)
	}

	recs, total, err := s.ListRecords(ctx, models.RecordFilter{UserID: &alice})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(recs) != 1 {
		t.Fatalf("got %d records", total)
	}
	if recs[0].UserName != "alice" || recs[0].CheckOutTime == nil || !recs[0].CheckOutTime.Equal(t0.Add(8*time.Hour)) {
		t.Errorf("record = %+v", recs[0])
	}

	img, err := s.GetRecordImage(ctx, id)
	if err != nil || len(img) != 2 {
		t.Errorf("image = %v, %v", img, err)
	}
}

func TestCheckOutWithoutOpenRecord(t *testing.T) {
	s := setupStore(t)
	bob := enroll(t, s, "bob")

	_, closed, err := s.CheckOut(context.Background(), bob, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if closed {
		t.Error("closed a record that never existed")
	}
}

func TestConcurrentCheckInsKeepOneOpenRecord(t *testing.T) {
	s := setupStore(t)
	carol := enroll(t, s, "carol")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.CheckIn(context.Background(), carol, time.Now(), nil); err != nil {
				t.Errorf("CheckIn: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := len(openRecords(t, s, carol)); n != 1 {
		t.Errorf("open records = %d, want 1", n)
	}
}

func TestUnknownVisitorRecord(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.RecordUnknown(ctx, time.Now(), []byte("jpeg"))
	if err != nil {
		t.Fatal(err)
	}
	recs, _, err := s.ListRecords(ctx, models.RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != id || recs[0].UserID != nil {
		t.Errorf("records = %+v", recs)
	}
}

func TestIdentities(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id := enroll(t, s, "Dana Scully")
	enroll(t, s, "Fox Mulder")

	if _, err := s.CreateIdentity(ctx, models.Identity{Name: "Fox Mulder"}); !errors.Is(err, ErrConflict) {
		t.Errorf("duplicate name: err = %v, want ErrConflict", err)
	}

	found, err := s.ListIdentities(ctx, "scul")
	if err != nil || len(found) != 1 || found[0].ID != id {
		t.Errorf("search = %+v, %v", found, err)
	}

	got, ok, err := s.LookupIdentity(ctx, "Dana Scully")
	if err != nil || !ok || got != id {
		t.Errorf("LookupIdentity = %d, %v, %v", got, ok, err)
	}
	if _, ok, _ := s.LookupIdentity(ctx, "nobody"); ok {
		t.Error("found a missing identity")
	}
	if u, err := s.GetIdentity(ctx, 9999); err != nil || u != nil {
		t.Errorf("GetIdentity(missing) = %v, %v", u, err)
	}
}

func TestGalleryTableRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	p := gallery.NewTablePersister(s, "images")

	if _, err := p.Load(ctx); !errors.Is(err, gallery.ErrNotFound) {
		t.Fatalf("empty load: %v", err)
	}

	g := gallery.New([]gallery.Entry{
		{Label: "bob", Embedding: []float32{0.5, 0.25, 0}},
		{Label: "alice", Embedding: []float32{0, 1, 0}},
	}, "images", time.Now())
	if err := p.Save(ctx, g); err != nil {
		t.Fatal(err)
	}
	if err := p.Save(ctx, g); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := p.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 2 || got.Entries()[0].Label != "bob" || got.Entries()[1].Embedding[1] != 1 {
		t.Errorf("loaded %+v", got.Entries())
	}

	// An empty gallery, once saved, loads as empty rather than missing.
	if err := p.Save(ctx, gallery.New(nil, "images", time.Now())); err != nil {
		t.Fatal(err)
	}
	got, err = p.Load(ctx)
	if err != nil {
		t.Fatalf("load empty gallery: %v", err)
	}
	if got.Len() != 0 || got.BuiltAt().IsZero() {
		t.Errorf("empty gallery loaded as %d entries, built %v", got.Len(), got.BuiltAt())
	}
}
