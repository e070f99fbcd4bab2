package resume

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNewStore(t *testing.T) {
	tt := []struct {
		name    string
		backend string
		dir     string
		want    string
		wantErr bool
	}{
		{"default without dir", "", "", "*resume.MemoryStore", false},
		{"default with dir", "", t.TempDir(), "*resume.SqliteStore", false},
		{"memory", BackendMemory, t.TempDir(), "*resume.MemoryStore", false},
		{"unknown", "redis", "", "", true},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewStore(tc.backend, tc.dir)
			if (err != nil) != tc.wantErr {
				t.Fatalf("NewStore() err = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil {
				return
			}
			t.Cleanup(func() { _ = s.Close() })

			var got string
			switch s.(type) {
			case *MemoryStore:
				got = "*resume.MemoryStore"
			case *SqliteStore:
				got = "*resume.SqliteStore"
			}
			if got != tc.want {
				t.Fatalf("NewStore() got = %s, want %s", got, tc.want)
			}
		})
	}
}

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "ep1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() missing err = %v, want %v", err, ErrNotFound)
	}

	at := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	if err := s.Put(ctx, Position{ItemID: "ep1", Seconds: 45.5, UpdatedAt: at}); err != nil {
		t.Fatalf("Put() err = %v", err)
	}
	if err := s.Put(ctx, Position{ItemID: "ep1", Seconds: 812.25, UpdatedAt: at.Add(time.Minute)}); err != nil {
		t.Fatalf("Put() overwrite err = %v", err)
	}

	got, err := s.Get(ctx, "ep1")
	if err != nil {
		t.Fatalf("Get() err = %v", err)
	}
	want := Position{ItemID: "ep1", Seconds: 812.25, UpdatedAt: at.Add(time.Minute)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Get() mismatch (-want +got):\n%s", diff)
	}

	secs, err := Lookup(ctx, s, "ep2")
	if err != nil || secs != 0 {
		t.Fatalf("Lookup() missing got = %v, %v, want 0, nil", secs, err)
	}

	if err := s.Delete(ctx, "ep1"); err != nil {
		t.Fatalf("Delete() err = %v", err)
	}
	if _, err := s.Get(ctx, "ep1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after delete err = %v, want %v", err, ErrNotFound)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	testStore(t, s)

	_ = s.Close()
	if err := s.Put(context.Background(), Position{ItemID: "x"}); err == nil {
		t.Fatalf("Put() after Close err = nil")
	}
}

func TestSqliteStore(t *testing.T) {
	s, err := NewSqliteStore(t.TempDir() + "/nested/resume.sqlite")
	if err != nil {
		t.Fatalf("NewSqliteStore() err = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	testStore(t, s)
}

func TestSqliteStoreReopen(t *testing.T) {
	path := t.TempDir() + "/resume.sqlite"
	ctx := context.Background()

	s, err := NewSqliteStore(path)
	if err != nil {
		t.Fatalf("NewSqliteStore() err = %v", err)
	}
	r := NewStoreRecorder(s)
	r.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	if err := r.Record(ctx, "movie", 3600); err != nil {
		t.Fatalf("Record() err = %v", err)
	}
	_ = s.Close()

	s, err = NewSqliteStore(path)
	if err != nil {
		t.Fatalf("NewSqliteStore() reopen err = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	secs, err := Lookup(ctx, s, "movie")
	if err != nil || secs != 3600 {
		t.Fatalf("Lookup() got = %v, %v, want 3600, nil", secs, err)
	}
}

func TestStoreRecorder(t *testing.T) {
	s := NewMemoryStore()
	r := NewStoreRecorder(s)

	if err := r.Record(context.Background(), "", 10); err == nil {
		t.Fatalf("Record() empty id err = nil")
	}
	if err := r.Record(context.Background(), "ep", -3); err != nil {
		t.Fatalf("Record() err = %v", err)
	}
	if secs, _ := Lookup(context.Background(), s, "ep"); secs != 0 {
		t.Fatalf("Record() negative stored %v, want 0", secs)
	}
}

func TestHTTPRecorder(t *testing.T) {
	var got positionReport
	var key, ctype string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method got = %s, want POST", r.Method)
		}
		key = r.Header.Get("X-Api-Key")
		ctype = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	r := NewHTTPRecorder(srv.URL+"/positions", "secret")
	if err := r.Record(context.Background(), "ep7", 45); err != nil {
		t.Fatalf("Record() err = %v", err)
	}

	if diff := cmp.Diff(positionReport{ItemID: "ep7", PositionSeconds: 45}, got); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	if key != "secret" || ctype != "application/json" {
		t.Fatalf("headers got = %q, %q", key, ctype)
	}
}

func TestHTTPRecorderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	r := NewHTTPRecorder(srv.URL, "")
	if err := r.Record(context.Background(), "ep7", 45); err == nil {
		t.Fatalf("Record() err = nil on 400")
	}
}
