package store

import (
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/yllada/g15-config/common"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), common.StoreFileName)
	}
	s, err := Open(Options{Path: path, Logger: common.NewLogger(&bytes.Buffer{}, common.LevelDebug)})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// recorder collects delivered changes.
type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) observe(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Type.String()+" "+c.Path)
	}
	return out
}

func TestStore_GetSet(t *testing.T) {
	s := openTestStore(t, "")

	tests := []struct {
		path  string
		value Value
	}{
		{"/apps/gnome15/g19_0/enabled", Bool(true)},
		{"/apps/gnome15/g19_0/active_profile", Int(3)},
		{"/apps/gnome15/g19_0/profiles/0/name", String("Default")},
		{"/apps/gnome15/g19_0/backlight_colour", String("255,0,128")},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if err := s.Set(tt.path, tt.value); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			got, ok, err := s.Get(tt.path)
			if err != nil || !ok {
				t.Fatalf("Get() = %v, %v, %v", got, ok, err)
			}
			if !got.Equal(tt.value) {
				t.Errorf("Get() = %#v, want %#v", got, tt.value)
			}
		})
	}

	if _, ok, err := s.Get("/apps/gnome15/missing"); ok || err != nil {
		t.Errorf("Get(missing) = %v, %v, want false, nil", ok, err)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), common.StoreFileName)

	s, err := Open(Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("/apps/gnome15/g15v2_0/active_profile", Int(2)); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2 := openTestStore(t, path)
	v, ok, err := s2.Get("/apps/gnome15/g15v2_0/active_profile")
	if err != nil || !ok || v.IntValue() != 2 {
		t.Errorf("Get() after reopen = %v, %v, %v", v, ok, err)
	}
}

func TestStore_Children(t *testing.T) {
	s := openTestStore(t, "")
	for _, p := range []string{
		"/apps/gnome15/g19_0/profiles/0/name",
		"/apps/gnome15/g19_0/profiles/0/m1/g1/name",
		"/apps/gnome15/g19_0/profiles/2/name",
		"/apps/gnome15/g19_0/profiles/10/name",
		"/apps/gnome15/g19_0/enabled",
	} {
		if err := s.Set(p, String("x")); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Children("/apps/gnome15/g19_0/profiles")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"0", "10", "2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Children() = %v, want %v", got, want)
	}

	got, _ = s.Children("/apps/gnome15/g19_0/")
	if want := []string{"enabled", "profiles"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Children() = %v, want %v", got, want)
	}
}

func TestStore_UnsetTree(t *testing.T) {
	s := openTestStore(t, "")
	base := "/apps/gnome15/g19_0/profiles/1"
	s.Set(base+"/name", String("Games"))
	s.Set(base+"/m1/g1/name", String("Macro g1"))
	s.Set("/apps/gnome15/g19_0/profiles/10/name", String("Other"))

	rec := &recorder{}
	sub := s.OnChange(base, rec.observe)
	defer sub.Unsubscribe()

	if err := s.UnsetTree(base); err != nil {
		t.Fatal(err)
	}
	s.Flush()

	if _, ok, _ := s.Get(base + "/m1/g1/name"); ok {
		t.Error("nested key should be removed")
	}
	if _, ok, _ := s.Get("/apps/gnome15/g19_0/profiles/10/name"); !ok {
		t.Error("sibling with shared string prefix must survive")
	}
	want := []string{"delete " + base + "/m1/g1/name", "delete " + base + "/name"}
	if got := rec.paths(); !reflect.DeepEqual(got, want) {
		t.Errorf("changes = %v, want %v", got, want)
	}
}

func TestStore_NonASCIISegments(t *testing.T) {
	s := openTestStore(t, "")
	base := "/apps/gnome15/g15v1_0/profiles/0/m1"
	for _, p := range []string{base + "/é/name", base + "/é/type", base + "/ü/name", base + "/g1/name"} {
		if err := s.Set(p, String("x")); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Children(base)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"g1", "é", "ü"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Children() = %v, want %v", got, want)
	}

	if err := s.UnsetTree(base + "/é"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(base + "/é/name"); ok {
		t.Error("UnsetTree() left a key beneath a non-ASCII segment")
	}

	if err := s.Move(base+"/ü", base+"/g5"); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if _, ok, _ := s.Get(base + "/g5/name"); !ok {
		t.Error("Move() did not copy the key")
	}
	if _, ok, _ := s.Get(base + "/ü/name"); ok {
		t.Error("Move() left the source key")
	}
}

func TestStore_Move(t *testing.T) {
	s := openTestStore(t, "")
	from := "/apps/gnome15/g19_0/profiles/0/m1/g1"
	to := "/apps/gnome15/g19_0/profiles/0/m1/g1_g2"
	s.Set(from+"/name", String("Launch"))
	s.Set(from+"/type", String("command"))
	s.Set(to+"/stale", String("leftover"))

	if err := s.Move(from, to); err != nil {
		t.Fatalf("Move() error = %v", err)
	}

	if _, ok, _ := s.Get(from + "/name"); ok {
		t.Error("source should be gone after Move")
	}
	if v, ok, _ := s.Get(to + "/name"); !ok || v.Str() != "Launch" {
		t.Errorf("moved name = %v, %v", v, ok)
	}
	if _, ok, _ := s.Get(to + "/stale"); ok {
		t.Error("destination content should be replaced")
	}

	err := s.Move("/apps/gnome15/nothing", to)
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Move(missing) error = %v, want ErrNotFound", err)
	}
	if errors.Is(err, common.ErrBackendUnavailable) {
		t.Error("Move(missing) should not report the backend as unavailable")
	}

	if err := s.Move(to, to+"/child"); !errors.Is(err, common.ErrPrecondition) {
		t.Errorf("Move(into itself) error = %v, want ErrPrecondition", err)
	}
}

func TestStore_NotificationsCarrySource(t *testing.T) {
	s := openTestStore(t, "")
	rec := &recorder{}
	sub := s.OnChange("/apps/gnome15/g19_0", rec.observe)

	client := s.Client("session-1")
	client.Set("/apps/gnome15/g19_0/enabled", Bool(true))
	s.Set("/apps/gnome15/g19_0/driver", String("direct"))
	s.Set("/apps/gnome15/g13_0/enabled", Bool(true))
	// Unchanged value produces no notification.
	client.Set("/apps/gnome15/g19_0/enabled", Bool(true))
	s.Flush()

	rec.mu.Lock()
	got := append([]Change(nil), rec.changes...)
	rec.mu.Unlock()

	if len(got) != 2 {
		t.Fatalf("changes = %v, want 2", got)
	}
	if got[0].Source != "session-1" || got[1].Source != "" {
		t.Errorf("sources = %q, %q", got[0].Source, got[1].Source)
	}

	sub.Unsubscribe()
	s.Set("/apps/gnome15/g19_0/enabled", Bool(false))
	s.Flush()
	if n := len(rec.paths()); n != 2 {
		t.Errorf("changes after Unsubscribe = %d, want 2", n)
	}
}

func TestStore_Subscriptions(t *testing.T) {
	s := openTestStore(t, "")
	a1 := s.OnChange("/apps/gnome15/g19_0", func(Change) {})
	a2 := s.OnChange("/apps/gnome15/g19_0/profiles/0", func(Change) {})
	w := s.AddWatch("/apps/gnome15/g19_0")
	b := s.OnChange("/apps/gnome15/g19_01", func(Change) {})
	defer b.Unsubscribe()

	if n := s.Subscriptions("/apps/gnome15/g19_0"); n != 3 {
		t.Errorf("Subscriptions() = %d, want 3", n)
	}

	a1.Unsubscribe()
	a2.Unsubscribe()
	w.Remove()
	w.Remove()

	if n := s.Subscriptions("/apps/gnome15/g19_0"); n != 0 {
		t.Errorf("Subscriptions() after release = %d, want 0", n)
	}
	if n := s.Subscriptions("/apps/gnome15"); n != 1 {
		t.Errorf("Subscriptions(root) = %d, want 1", n)
	}
}

func TestStore_SyncReplaysOtherWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), common.StoreFileName)
	viewer := openTestStore(t, path)
	editor := openTestStore(t, path)

	rec := &recorder{}
	viewer.OnChange("/apps/gnome15", rec.observe)
	viewer.AddWatch("/apps/gnome15/g19_0")

	editor.Client("other").Set("/apps/gnome15/g19_0/active_profile", Int(4))
	editor.Set("/apps/gnome15/g13_0/active_profile", Int(1))
	viewer.Set("/apps/gnome15/g19_0/enabled", Bool(true))
	viewer.Flush()

	if err := viewer.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	viewer.Flush()

	want := []string{
		"set /apps/gnome15/g19_0/enabled",
		"set /apps/gnome15/g19_0/active_profile",
	}
	if got := rec.paths(); !reflect.DeepEqual(got, want) {
		t.Errorf("changes = %v, want %v", got, want)
	}

	// A second Sync has nothing new to deliver.
	viewer.Sync()
	viewer.Flush()
	if n := len(rec.paths()); n != 2 {
		t.Errorf("changes after second Sync = %d, want 2", n)
	}
}

func TestPathHelpers(t *testing.T) {
	if got := Join("/apps/gnome15/", "g19_0", "", "/enabled"); got != "/apps/gnome15/g19_0/enabled" {
		t.Errorf("Join() = %q", got)
	}
	if got := Base("/apps/gnome15/g19_0/enabled"); got != "enabled" {
		t.Errorf("Base() = %q", got)
	}

	tests := []struct {
		prefix, path string
		want         bool
	}{
		{"/a/b", "/a/b", true},
		{"/a/b", "/a/b/c", true},
		{"/a/b/", "/a/b/c", true},
		{"/a/b", "/a/bc", false},
		{"/a/b/c", "/a/b", false},
		{"", "/anything", true},
	}
	for _, tt := range tests {
		if got := Under(tt.prefix, tt.path); got != tt.want {
			t.Errorf("Under(%q, %q) = %v, want %v", tt.prefix, tt.path, got, tt.want)
		}
	}
}

func TestValueConversions(t *testing.T) {
	tests := []struct {
		name     string
		v        Value
		wantStr  string
		wantInt  int
		wantBool bool
	}{
		{"int", Int(7), "7", 7, true},
		{"bool", Bool(true), "true", 1, true},
		{"numeric string", String("12"), "12", 12, false},
		{"bool string", String("true"), "true", 0, true},
		{"empty", String(""), "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Str(); got != tt.wantStr {
				t.Errorf("Str() = %q, want %q", got, tt.wantStr)
			}
			if got := tt.v.IntValue(); got != tt.wantInt {
				t.Errorf("IntValue() = %d, want %d", got, tt.wantInt)
			}
			if got := tt.v.BoolValue(); got != tt.wantBool {
				t.Errorf("BoolValue() = %v, want %v", got, tt.wantBool)
			}
		})
	}
}
