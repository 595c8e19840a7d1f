// Package main provides a CLI tool for copying a camwatch SQLite event store
// into MySQL, used to seed a MySQL deployment from a recorded history.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set by the linker at build time.
var version = "dev"

// Config holds the export tool settings.
type Config struct {
	SQLitePath string
	MySQLDSN   string
	BatchSize  int
	Clean      bool
	SkipVerify bool
	Verbose    bool
}

func (c *Config) validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("--sqlite-path is required")
	}
	if c.MySQLDSN == "" {
		return fmt.Errorf("--mysql-dsn is required")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("--batch-size must be at least 1")
	}
	return nil
}

var cfg Config

var rootCmd = &cobra.Command{
	Use:   "dbexport",
	Short: "Export camwatch events from SQLite to MySQL",
	Long: `A tool for copying a camwatch SQLite event store into MySQL.

Gate events, crossings, attendance transitions and occupancy samples are
copied in batches with their original ids preserved, so a MySQL deployment
can take over from a recorded SQLite history.`,
	RunE: runExport,
}

func init() {
	rootCmd.Flags().StringVar(&cfg.SQLitePath, "sqlite-path", "", "Path to source SQLite database file")
	rootCmd.Flags().StringVar(&cfg.MySQLDSN, "mysql-dsn", "", "MySQL connection string (e.g., user:pass@tcp(host:3306)/camwatch)")
	rootCmd.Flags().IntVar(&cfg.BatchSize, "batch-size", 1000, "Number of rows per batch")
	rootCmd.Flags().BoolVar(&cfg.Clean, "clean", false, "Delete target rows before copying")
	rootCmd.Flags().BoolVar(&cfg.SkipVerify, "skip-verify", false, "Skip post-copy row count verification")
	rootCmd.Flags().BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose output")
	rootCmd.Version = version
}

func runExport(cmd *cobra.Command, args []string) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	m, err := NewMigrator(&cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	stats, err := m.Run()
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	stats.Print()

	if !cfg.SkipVerify {
		if err := m.Verify(); err != nil {
			return err
		}
		fmt.Println("Verification passed, row counts match")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
