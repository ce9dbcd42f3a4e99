// Package storage archives headless runs on disk: one directory per run
// holding metadata.json and samples.csv.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/reactorsim/internal/export"
	"github.com/san-kum/reactorsim/internal/sim"
)

const (
	metadataFile = "metadata.json"
	samplesFile  = "samples.csv"
)

var ErrRunNotFound = errors.New("storage: run not found")

type Store struct {
	baseDir string
	now     func() time.Time
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, now: time.Now}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir() string { return s.baseDir }

type RunMetadata struct {
	ID           string             `json:"id"`
	Preset       string             `json:"preset"`
	Timestamp    time.Time          `json:"timestamp"`
	Dt           float64            `json:"dt"`
	Duration     float64            `json:"duration"`
	Steps        int                `json:"steps"`
	Integrator   string             `json:"integrator"`
	Script       string             `json:"script,omitempty"`
	CautionTemp  float64            `json:"caution_temp"`
	CriticalTemp float64            `json:"critical_temp"`
	AutoShutdown bool               `json:"auto_shutdown"`
	Trips        int64              `json:"trips"`
	FinalStatus  string             `json:"final_status"`
	Metrics      map[string]float64 `json:"metrics"`
}

// Save writes a new run and returns its id. ID, Timestamp and Steps on meta
// are filled in by the store.
func (s *Store) Save(meta RunMetadata, samples []sim.Sample) (string, error) {
	meta.ID = uuid.NewString()
	meta.Timestamp = s.now().UTC()
	meta.Steps = len(samples)

	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	if err := writeMetadata(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, samplesFile))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	if len(samples) == 0 {
		return meta.ID, nil
	}
	if err := export.WriteArchive(csvFile, samples, meta.Timestamp); err != nil {
		return "", fmt.Errorf("write samples: %w", err)
	}
	return meta.ID, nil
}

func writeMetadata(path string, meta RunMetadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

// List returns every readable run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.After(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode %s: %w", runID, err)
	}
	return &meta, nil
}

func (s *Store) LoadSamples(runID string) ([]sim.Sample, error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, samplesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}
	defer f.Close()

	return export.ReadCSV(f)
}

// SamplesPath is the on-disk location of a run's samples.
func (s *Store) SamplesPath(runID string) string {
	return filepath.Join(s.baseDir, runID, samplesFile)
}

// Latest returns the most recent run.
func (s *Store) Latest() (*RunMetadata, error) {
	runs, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return &runs[0], nil
}
