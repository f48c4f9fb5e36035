package project

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var (
	// ErrProjectExists is returned when a directory is registered twice.
	ErrProjectExists = errors.New("project already registered")
	// ErrUnsupportedType is returned for directories no run command exists for.
	ErrUnsupportedType = errors.New("unsupported project type")
	// ErrUnknownProject is returned when a reference matches nothing.
	ErrUnknownProject = errors.New("unknown project")
	// ErrAmbiguousProject is returned when a reference matches more than one
	// project.
	ErrAmbiguousProject = errors.New("ambiguous project reference")
)

const storeVersion = 1

type storeFile struct {
	Version  int       `yaml:"version"`
	Projects []Project `yaml:"projects"`
}

// DefaultStorePath returns ~/.config/devrun/projects.yaml.
func DefaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "devrun", "projects.yaml"), nil
}

// Store is the YAML backed project registry. It is safe for concurrent use.
type Store struct {
	path string
	home string

	mu       sync.Mutex
	projects []Project

	now   func() time.Time
	newID func() ID
}

// OpenStore loads the registry at path. A missing file yields an empty store
// that is created on the first Save.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("project store path is empty")
	}
	home, _ := os.UserHomeDir()
	s := &Store{
		path:  ExpandHome(path),
		home:  home,
		now:   time.Now,
		newID: func() ID { return ID(uuid.NewString()) },
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the location of the projects file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read projects file: %w", err)
	}

	var file storeFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode projects file %s: %w", s.path, err)
	}
	if file.Version > storeVersion {
		return fmt.Errorf("projects file %s: unsupported version %d", s.path, file.Version)
	}

	seen := make(map[ID]bool, len(file.Projects))
	for i, p := range file.Projects {
		if p.ID == "" {
			return fmt.Errorf("projects file %s: project %d has no id", s.path, i)
		}
		if seen[p.ID] {
			return fmt.Errorf("projects file %s: duplicate id %s", s.path, p.ID)
		}
		seen[p.ID] = true
		if _, err := ParseType(string(p.Type)); err != nil {
			return fmt.Errorf("projects file %s: project %s: %w", s.path, p.Name, err)
		}
	}
	s.projects = file.Projects
	return nil
}

// Save writes the registry atomically.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := yaml.Marshal(storeFile{Version: storeVersion, Projects: s.projects})
	if err != nil {
		return fmt.Errorf("encode projects: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create projects directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".projects-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp projects file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write projects file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write projects file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace projects file: %w", err)
	}
	return nil
}

// List returns the registered projects sorted by name.
func (s *Store) List() []Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]Project(nil), s.projects...)
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// Add registers dir, detecting its type, and persists the registry.
func (s *Store) Add(dir string) (Project, error) {
	abs, err := filepath.Abs(ExpandHome(dir))
	if err != nil {
		return Project{}, fmt.Errorf("resolve %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Project{}, fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return Project{}, fmt.Errorf("%s is not a directory", abs)
	}
	typ, err := DetectType(abs)
	if err != nil {
		return Project{}, err
	}
	if typ == TypeUnsupported {
		return Project{}, fmt.Errorf("%w: %s", ErrUnsupportedType, abs)
	}

	stored := CollapseHome(abs, s.home)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projects {
		if p.Path == stored {
			return Project{}, fmt.Errorf("%w: %s", ErrProjectExists, stored)
		}
	}
	p := Project{
		ID:    s.newID(),
		Name:  filepath.Base(abs),
		Path:  stored,
		Type:  typ,
		Added: s.now().UTC().Truncate(time.Second),
	}
	s.projects = append(s.projects, p)
	if err := s.saveLocked(); err != nil {
		s.projects = s.projects[:len(s.projects)-1]
		return Project{}, err
	}
	return p, nil
}

// Remove unregisters the referenced project and persists the registry.
func (s *Store) Remove(ref string) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.findLocked(ref)
	if err != nil {
		return Project{}, err
	}
	removed := s.projects[idx]
	previous := s.projects
	s.projects = append(append([]Project(nil), s.projects[:idx]...), s.projects[idx+1:]...)
	if err := s.saveLocked(); err != nil {
		s.projects = previous
		return Project{}, err
	}
	return removed, nil
}

// Find resolves ref as a full ID, a unique ID prefix or a project name.
func (s *Store) Find(ref string) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.findLocked(ref)
	if err != nil {
		return Project{}, err
	}
	return s.projects[idx], nil
}

func (s *Store) findLocked(ref string) (int, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return -1, fmt.Errorf("%w: empty reference", ErrUnknownProject)
	}
	for i, p := range s.projects {
		if string(p.ID) == ref {
			return i, nil
		}
	}

	match := func(pred func(Project) bool) (int, int) {
		found, count := -1, 0
		for i, p := range s.projects {
			if pred(p) {
				found = i
				count++
			}
		}
		return found, count
	}

	if i, n := match(func(p Project) bool { return p.Name == ref }); n == 1 {
		return i, nil
	} else if n > 1 {
		return -1, fmt.Errorf("%w: %d projects named %q", ErrAmbiguousProject, n, ref)
	}
	if i, n := match(func(p Project) bool { return strings.HasPrefix(string(p.ID), ref) }); n == 1 {
		return i, nil
	} else if n > 1 {
		return -1, fmt.Errorf("%w: %q matches %d ids", ErrAmbiguousProject, ref, n)
	}
	return -1, fmt.Errorf("%w: %s", ErrUnknownProject, ref)
}
