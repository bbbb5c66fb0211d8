// Package store persists suite run history to SQLite via GORM, so a
// suite can answer "did this scenario regress since last run" without a
// report renderer (SPEC_FULL.md §6.1). It implements result.Listener
// like any other consumer; a suite with no store configured behaves
// identically to one with it configured.
package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/halvard/gobdd/internal/result"
)

type SuiteRun struct {
	ID          string `gorm:"primaryKey"`
	StartedAt   time.Time
	DurationMS  int64
	FailedCount int
	Features    []FeatureRun `gorm:"foreignKey:SuiteRunID"`
}

func (r *SuiteRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

type FeatureRun struct {
	ID         string `gorm:"primaryKey"`
	SuiteRunID string `gorm:"index"`
	Path       string
	Name       string
	Status     string
	StartedAt  time.Time
	DurationMS int64
	Scenarios  []ScenarioRun `gorm:"foreignKey:FeatureRunID"`
}

func (r *FeatureRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

type ScenarioRun struct {
	ID            string `gorm:"primaryKey"`
	FeatureRunID  string `gorm:"index"`
	UniqueID      string
	Name          string
	Status        string
	StartedAt     time.Time
	DurationMS    int64
	FailMessage   string
}

func (r *ScenarioRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Store is a result.Listener that buffers one suite run in memory and
// flushes it to SQLite on OnSuiteEnd, so the write happens once per run
// rather than row-by-row under scheduler concurrency.
type Store struct {
	db        *gorm.DB
	currentID string
	startedAt time.Time
	features  []FeatureRun
}

func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SuiteRun{}, &FeatureRun{}, &ScenarioRun{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) OnSuiteStart(start time.Time) {
	s.currentID = uuid.NewString()
	s.startedAt = start
	s.features = nil
}

func (s *Store) OnFeatureStart(path string) {}

func (s *Store) OnScenarioStart(result.ScenarioResult) {}

func (s *Store) OnStepEnd(string, result.StepResult) {}

func (s *Store) OnScenarioEnd(result.ScenarioResult) {}

func (s *Store) OnFeatureEnd(f result.FeatureResult) {
	scenarios := make([]ScenarioRun, 0, len(f.Scenarios))
	for _, sc := range f.Scenarios {
		scenarios = append(scenarios, ScenarioRun{
			UniqueID:    sc.UniqueID,
			Name:        sc.Name,
			Status:      string(sc.Status),
			StartedAt:   sc.StartedAt,
			DurationMS:  sc.Duration.Milliseconds(),
			FailMessage: sc.FailMessage,
		})
	}
	s.features = append(s.features, FeatureRun{
		Path:       f.Path,
		Name:       f.Name,
		Status:     string(f.Status),
		StartedAt:  f.StartedAt,
		DurationMS: f.Duration.Milliseconds(),
		Scenarios:  scenarios,
	})
}

func (s *Store) OnSuiteEnd(sr result.SuiteResult) {
	run := SuiteRun{
		ID:          s.currentID,
		StartedAt:   s.startedAt,
		DurationMS:  sr.Duration.Milliseconds(),
		FailedCount: sr.FailedCount,
		Features:    s.features,
	}
	s.db.Create(&run)
}

// Close releases the underlying sql.DB connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ result.Listener = (*Store)(nil)
