package main

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/camwatch/camwatch-go/internal/datastore"
)

// Migrator copies event rows from a SQLite store to a MySQL store.
type Migrator struct {
	cfg Config
	src *gorm.DB
	dst *gorm.DB
}

// TableStats tracks one copied table.
type TableStats struct {
	Name     string
	Copied   int64
	Duration time.Duration
}

// Stats tracks the whole run.
type Stats struct {
	Started time.Time
	Ended   time.Time
	Tables  []TableStats
}

// Print writes the copy summary.
func (s *Stats) Print() {
	fmt.Printf("\n%-20s %10s %12s\n", "Table", "Copied", "Duration")
	var total int64
	for _, t := range s.Tables {
		fmt.Printf("%-20s %10d %12s\n", t.Name, t.Copied, t.Duration.Round(time.Millisecond))
		total += t.Copied
	}
	fmt.Printf("%-20s %10d %12s\n", "TOTAL", total, s.Ended.Sub(s.Started).Round(time.Millisecond))
}

// NewMigrator opens and pings both databases.
func NewMigrator(cfg *Config) (*Migrator, error) {
	logLevel := logger.Silent
	if cfg.Verbose {
		logLevel = logger.Info
	}
	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logLevel)}

	src, err := gorm.Open(sqlite.Open(cfg.SQLitePath), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	dst, err := gorm.Open(mysql.Open(cfg.MySQLDSN), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	for name, db := range map[string]*gorm.DB{"SQLite": src, "MySQL": dst} {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get %s connection: %w", name, err)
		}
		if err := sqlDB.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping %s database: %w", name, err)
		}
	}

	return &Migrator{cfg: *cfg, src: src, dst: dst}, nil
}

// Close closes both database connections.
func (m *Migrator) Close() {
	for _, db := range []*gorm.DB{m.src, m.dst} {
		if db == nil {
			continue
		}
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

type tableCopy struct {
	name string
	copy func(m *Migrator) (int64, error)
}

func tables() []tableCopy {
	return []tableCopy{
		{name: datastore.GateEventRecord{}.TableName(), copy: copyTable[datastore.GateEventRecord]},
		{name: datastore.CrossingRecord{}.TableName(), copy: copyTable[datastore.CrossingRecord]},
		{name: datastore.AttendanceRecord{}.TableName(), copy: copyTable[datastore.AttendanceRecord]},
		{name: datastore.OccupancyRecord{}.TableName(), copy: copyTable[datastore.OccupancyRecord]},
	}
}

// Run creates the target tables and copies every event table in batches.
func (m *Migrator) Run() (*Stats, error) {
	if err := m.dst.AutoMigrate(
		&datastore.GateEventRecord{},
		&datastore.CrossingRecord{},
		&datastore.AttendanceRecord{},
		&datastore.OccupancyRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to create target tables: %w", err)
	}

	stats := &Stats{Started: time.Now()}
	for _, t := range tables() {
		if m.cfg.Clean {
			if err := m.dst.Exec("DELETE FROM " + t.name).Error; err != nil {
				return nil, fmt.Errorf("failed to clean %s: %w", t.name, err)
			}
		}
		began := time.Now()
		copied, err := t.copy(m)
		if err != nil {
			return nil, fmt.Errorf("failed to copy %s: %w", t.name, err)
		}
		stats.Tables = append(stats.Tables, TableStats{
			Name:     t.name,
			Copied:   copied,
			Duration: time.Since(began),
		})
		if m.cfg.Verbose {
			fmt.Printf("Copied %d rows from %s\n", copied, t.name)
		}
	}
	stats.Ended = time.Now()
	return stats, nil
}

// copyTable streams one table through in batches. Row ids are preserved; the
// models only generate ids for rows that arrive without one.
func copyTable[T any](m *Migrator) (int64, error) {
	var rows []T
	var copied int64
	res := m.src.FindInBatches(&rows, m.cfg.BatchSize, func(*gorm.DB, int) error {
		if len(rows) == 0 {
			return nil
		}
		if err := m.dst.Create(&rows).Error; err != nil {
			return err
		}
		copied += int64(len(rows))
		return nil
	})
	return copied, res.Error
}

// Verify compares per-table row counts between source and target.
func (m *Migrator) Verify() error {
	for _, t := range tables() {
		var srcCount, dstCount int64
		if err := m.src.Table(t.name).Count(&srcCount).Error; err != nil {
			return fmt.Errorf("failed to count source %s: %w", t.name, err)
		}
		if err := m.dst.Table(t.name).Count(&dstCount).Error; err != nil {
			return fmt.Errorf("failed to count target %s: %w", t.name, err)
		}
		if srcCount != dstCount {
			return fmt.Errorf("row count mismatch for %s: source %d, target %d", t.name, srcCount, dstCount)
		}
	}
	return nil
}
