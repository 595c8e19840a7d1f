// Package datastore persists the engine's event streams. Gate events,
// crossings, attendance transitions and occupancy samples are written as
// rows; the query surface serves the API and the replay summary.
package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/camwatch/camwatch-go/internal/conf"
	"github.com/camwatch/camwatch-go/internal/errors"
	"github.com/camwatch/camwatch-go/internal/observability/metrics"
)

// Interface abstracts the underlying database implementation.
type Interface interface {
	Open() error
	Close() error
	SaveGateEvent(ctx context.Context, event *GateEventRecord) error
	SaveCrossing(ctx context.Context, event *CrossingRecord) error
	SaveAttendance(ctx context.Context, event *AttendanceRecord) error
	SaveOccupancy(ctx context.Context, sample *OccupancyRecord) error
	GetGateEvents(ctx context.Context, limit int) ([]GateEventRecord, error)
	GetGateEventsByPlate(ctx context.Context, plate string, limit int) ([]GateEventRecord, error)
	GetCrossings(ctx context.Context, counter string, since time.Time) ([]CrossingRecord, error)
	GetAttendanceForDate(ctx context.Context, date string) ([]AttendanceRecord, error)
	GetEmployeeAttendance(ctx context.Context, employeeID string, limit int) ([]AttendanceRecord, error)
	LatestOccupancy(ctx context.Context, counter string) (*OccupancyRecord, error)
}

// DataStore implements Interface over a GORM database.
type DataStore struct {
	DB      *gorm.DB
	metrics *metrics.DatastoreMetrics
}

// New creates a store for whichever backend the settings enable. Returns nil
// when no database output is enabled; callers skip the sink in that case.
func New(settings *conf.Settings, dm *metrics.DatastoreMetrics) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			DataStore: DataStore{metrics: dm},
			Settings:  settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			DataStore: DataStore{metrics: dm},
			Settings:  settings,
		}
	default:
		return nil
	}
}

// performAutoMigration creates or migrates the event tables.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&GateEventRecord{}, &CrossingRecord{}, &AttendanceRecord{}, &OccupancyRecord{}); err != nil {
		return errors.Newf("failed to auto-migrate %s database: %w", dbType, err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("db_type", dbType).
			Build()
	}

	if debug {
		getLogger().Debug("Database initialized",
			"db_type", dbType,
			"connection", connectionInfo)
	}
	return nil
}

// record feeds one operation into the telemetry counters.
func (ds *DataStore) record(operation string, start time.Time, err error) {
	if ds.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	ds.metrics.RecordOperation(operation, status, time.Since(start).Seconds())
}

// SaveGateEvent inserts one gate event row.
func (ds *DataStore) SaveGateEvent(ctx context.Context, event *GateEventRecord) error {
	start := time.Now()
	err := ds.DB.WithContext(ctx).Create(event).Error
	ds.record(metrics.OpGateEventSave, start, err)
	if err != nil {
		return errors.Newf("saving gate event: %w", err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("zone", event.Zone).
			Build()
	}
	return nil
}

// SaveCrossing inserts one crossing row.
func (ds *DataStore) SaveCrossing(ctx context.Context, event *CrossingRecord) error {
	start := time.Now()
	err := ds.DB.WithContext(ctx).Create(event).Error
	ds.record(metrics.OpCrossingSave, start, err)
	if err != nil {
		return errors.Newf("saving crossing: %w", err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("counter", event.Counter).
			Build()
	}
	return nil
}

// SaveAttendance inserts one attendance transition row.
func (ds *DataStore) SaveAttendance(ctx context.Context, event *AttendanceRecord) error {
	start := time.Now()
	err := ds.DB.WithContext(ctx).Create(event).Error
	ds.record(metrics.OpAttendanceSave, start, err)
	if err != nil {
		return errors.Newf("saving attendance transition: %w", err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("employee_id", event.EmployeeID).
			Build()
	}
	return nil
}

// SaveOccupancy inserts one occupancy sample row.
func (ds *DataStore) SaveOccupancy(ctx context.Context, sample *OccupancyRecord) error {
	start := time.Now()
	err := ds.DB.WithContext(ctx).Create(sample).Error
	ds.record(metrics.OpOccupancySave, start, err)
	if err != nil {
		return errors.Newf("saving occupancy sample: %w", err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("counter", sample.Counter).
			Build()
	}
	return nil
}

// GetGateEvents returns the most recent gate events, newest first.
func (ds *DataStore) GetGateEvents(ctx context.Context, limit int) ([]GateEventRecord, error) {
	start := time.Now()
	var events []GateEventRecord
	err := ds.DB.WithContext(ctx).
		Order("timestamp DESC").
		Limit(limit).
		Find(&events).Error
	ds.record(metrics.OpEventQuery, start, err)
	if err != nil {
		return nil, errors.Newf("querying gate events: %w", err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Build()
	}
	return events, nil
}

// GetGateEventsByPlate returns gate events for a normalized plate, newest
// first.
func (ds *DataStore) GetGateEventsByPlate(ctx context.Context, plate string, limit int) ([]GateEventRecord, error) {
	start := time.Now()
	var events []GateEventRecord
	err := ds.DB.WithContext(ctx).
		Where("plate = ?", plate).
		Order("timestamp DESC").
		Limit(limit).
		Find(&events).Error
	ds.record(metrics.OpEventQuery, start, err)
	if err != nil {
		return nil, errors.Newf("querying gate events by plate: %w", err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("plate", plate).
			Build()
	}
	return events, nil
}

// GetCrossings returns crossings for a counter since the given time, oldest
// first so occupancy can be replayed.
func (ds *DataStore) GetCrossings(ctx context.Context, counter string, since time.Time) ([]CrossingRecord, error) {
	start := time.Now()
	var events []CrossingRecord
	err := ds.DB.WithContext(ctx).
		Where("counter = ? AND timestamp >= ?", counter, since).
		Order("timestamp ASC").
		Find(&events).Error
	ds.record(metrics.OpEventQuery, start, err)
	if err != nil {
		return nil, errors.Newf("querying crossings: %w", err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("counter", counter).
			Build()
	}
	return events, nil
}

// GetAttendanceForDate returns every transition recorded for a date, in
// emission order.
func (ds *DataStore) GetAttendanceForDate(ctx context.Context, date string) ([]AttendanceRecord, error) {
	start := time.Now()
	var events []AttendanceRecord
	err := ds.DB.WithContext(ctx).
		Where("date = ?", date).
		Order("timestamp ASC").
		Find(&events).Error
	ds.record(metrics.OpEventQuery, start, err)
	if err != nil {
		return nil, errors.Newf("querying attendance for date: %w", err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("date", date).
			Build()
	}
	return events, nil
}

// GetEmployeeAttendance returns an employee's most recent transitions,
// newest first.
func (ds *DataStore) GetEmployeeAttendance(ctx context.Context, employeeID string, limit int) ([]AttendanceRecord, error) {
	start := time.Now()
	var events []AttendanceRecord
	err := ds.DB.WithContext(ctx).
		Where("employee_id = ?", employeeID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&events).Error
	ds.record(metrics.OpEventQuery, start, err)
	if err != nil {
		return nil, errors.Newf("querying employee attendance: %w", err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("employee_id", employeeID).
			Build()
	}
	return events, nil
}

// LatestOccupancy returns the newest sample for a counter, or nil when the
// counter has never moved.
func (ds *DataStore) LatestOccupancy(ctx context.Context, counter string) (*OccupancyRecord, error) {
	start := time.Now()
	var sample OccupancyRecord
	err := ds.DB.WithContext(ctx).
		Where("counter = ?", counter).
		Order("timestamp DESC").
		First(&sample).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ds.record(metrics.OpEventQuery, start, nil)
		return nil, nil
	}
	ds.record(metrics.OpEventQuery, start, err)
	if err != nil {
		return nil, errors.Newf("querying latest occupancy: %w", err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Context("counter", counter).
			Build()
	}
	return &sample, nil
}

// Close releases the underlying connection pool.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return errors.Newf("getting database handle for close: %w", err).
			Category(errors.CategoryDatabase).
			Component("datastore").
			Build()
	}
	return sqlDB.Close()
}
