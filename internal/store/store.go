package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/thatsimonsguy/blower-controller/internal/model"
)

// Store persists the operator's flow settings as a JSON document.
type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load() (model.FlowSettings, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return model.FlowSettings{}, err
	}
	defer file.Close()

	var settings model.FlowSettings
	if err := json.NewDecoder(file).Decode(&settings); err != nil {
		return model.FlowSettings{}, err
	}
	return settings, nil
}

// LoadOr returns the stored settings, or defaults when nothing was saved yet.
// Fields absent from the file keep their default value.
func (s *Store) LoadOr(defaults model.FlowSettings) (model.FlowSettings, error) {
	file, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return defaults, nil
	}
	if err != nil {
		return defaults, err
	}
	defer file.Close()

	settings := defaults
	if err := json.NewDecoder(file).Decode(&settings); err != nil {
		return defaults, err
	}
	return settings, nil
}

// SaveSettings writes through a temp file so a crash never leaves a torn
// document behind.
func (s *Store) SaveSettings(settings model.FlowSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmpPath := s.path + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(settings); err != nil {
		file.Close()
		return err
	}
	file.Sync()
	file.Close()

	return os.Rename(tmpPath, s.path)
}
