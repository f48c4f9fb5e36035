package project

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "config", "projects.yaml"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func newProjectDir(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFiles(t, dir, files)
	return dir
}

func TestStoreAddPersistsAndReloads(t *testing.T) {
	store := newTestStore(t)
	dir := newProjectDir(t, "site", map[string]string{"package.json": `{"scripts":{"dev":"vite"}}`})

	added, err := store.Add(dir)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if added.Name != "site" || added.Type != TypeNode || added.ID == "" {
		t.Fatalf("unexpected project: %+v", added)
	}

	reopened, err := OpenStore(store.Path())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	list := reopened.List()
	if len(list) != 1 || list[0].ID != added.ID || list[0].Dir() != dir {
		t.Fatalf("unexpected reloaded projects: %+v", list)
	}
}

func TestStoreAddRejectsDuplicatesAndUnsupported(t *testing.T) {
	store := newTestStore(t)
	dir := newProjectDir(t, "site", map[string]string{"index.html": ""})
	if _, err := store.Add(dir); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := store.Add(dir); !errors.Is(err, ErrProjectExists) {
		t.Fatalf("expected ErrProjectExists, got %v", err)
	}

	empty := newProjectDir(t, "empty", nil)
	if _, err := store.Add(empty); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestStoreFind(t *testing.T) {
	store := newTestStore(t)
	ids := []ID{"aaaa1111-0000", "aaaa2222-0000", "bbbb3333-0000"}
	next := 0
	store.newID = func() ID {
		id := ids[next]
		next++
		return id
	}

	for _, name := range []string{"api", "web", "docs"} {
		dir := newProjectDir(t, name, map[string]string{"package.json": "{}"})
		if _, err := store.Add(dir); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}

	tests := []struct {
		ref     string
		want    ID
		wantErr error
	}{
		{ref: "aaaa2222-0000", want: "aaaa2222-0000"},
		{ref: "bbbb", want: "bbbb3333-0000"},
		{ref: "web", want: "aaaa2222-0000"},
		{ref: "aaaa", wantErr: ErrAmbiguousProject},
		{ref: "nope", wantErr: ErrUnknownProject},
		{ref: "", wantErr: ErrUnknownProject},
	}
	for _, tt := range tests {
		got, err := store.Find(tt.ref)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Find(%q) error = %v, want %v", tt.ref, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Find(%q): %v", tt.ref, err)
		}
		if got.ID != tt.want {
			t.Fatalf("Find(%q) = %s, want %s", tt.ref, got.ID, tt.want)
		}
	}

	removed, err := store.Remove("docs")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.ID != "bbbb3333-0000" {
		t.Fatalf("removed wrong project: %+v", removed)
	}
	if _, err := store.Find("bbbb"); !errors.Is(err, ErrUnknownProject) {
		t.Fatalf("expected removed project to be gone, got %v", err)
	}
}

func TestOpenStoreRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.yaml")
	data := "version: 1\nprojects:\n  - id: x\n    name: x\n    path: /tmp/x\n    type: node\n    colour: red\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := OpenStore(path)
	if err == nil || !strings.Contains(err.Error(), "colour") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestCollapseAndExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	collapsed := CollapseHome(filepath.Join(home, "code", "app"), home)
	if collapsed != "~/code/app" {
		t.Fatalf("CollapseHome = %q", collapsed)
	}
	if got := ExpandHome(collapsed); got != filepath.Join(home, "code", "app") {
		t.Fatalf("ExpandHome = %q", got)
	}
	if got := CollapseHome("/elsewhere/app", home); got != "/elsewhere/app" {
		t.Fatalf("CollapseHome outside home = %q", got)
	}
}
