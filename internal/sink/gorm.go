package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/temirov/freightaudit/internal/engine"
)

const (
	gormSinkNameConstant           = "mysql"
	databaseOpenErrorTemplate      = "failed to connect to database: %w"
	databaseMigrateErrorTemplate   = "failed to migrate audit tables: %w"
	databaseWriteErrorTemplate     = "failed to persist audit run: %w"
	recordMarshalErrorTemplate     = "failed to marshal result %d: %w"
	auditRunTableNameConstant      = "audit_runs"
	auditResultTableNameConstant   = "audit_results"
	defaultInsertBatchSizeConstant = 200
)

// AuditRunRecord is one row of the audit_runs table.
type AuditRunRecord struct {
	ID        string         `gorm:"column:id;primaryKey;type:varchar(64)"`
	Source    string         `gorm:"column:source;type:varchar(512)"`
	ItemCount int            `gorm:"column:item_count;not null"`
	Summary   datatypes.JSON `gorm:"column:summary;type:json"`
	StartedAt time.Time      `gorm:"column:started_at;not null;index:idx_started_at"`
}

// TableName names the table.
func (AuditRunRecord) TableName() string {
	return auditRunTableNameConstant
}

// AuditResultRecord is one row of the audit_results table.
type AuditResultRecord struct {
	ID              uint           `gorm:"column:id;primaryKey;autoIncrement"`
	RunID           string         `gorm:"column:run_id;type:varchar(64);not null;index:idx_run_status"`
	Sheet           string         `gorm:"column:sheet;type:varchar(128)"`
	Sequence        int            `gorm:"column:sequence;not null"`
	Description     string         `gorm:"column:description;type:varchar(512)"`
	Status          string         `gorm:"column:status;type:varchar(16);not null;index:idx_run_status"`
	Band            string         `gorm:"column:band;type:varchar(16)"`
	ChargeGroup     string         `gorm:"column:charge_group;type:varchar(32)"`
	DraftRate       float64        `gorm:"column:draft_rate"`
	ReferenceRate   *float64       `gorm:"column:reference_rate"`
	Provenance      string         `gorm:"column:provenance;type:varchar(32)"`
	VariancePercent *float64       `gorm:"column:variance_percent"`
	AutoFail        bool           `gorm:"column:autofail;not null"`
	RiskScore       float64        `gorm:"column:risk_score"`
	Issues          datatypes.JSON `gorm:"column:issues;type:json"`
	Metadata        datatypes.JSON `gorm:"column:metadata;type:json"`
}

// TableName names the table.
func (AuditResultRecord) TableName() string {
	return auditResultTableNameConstant
}

// OpenMySQL connects gorm to a MySQL DSN.
func OpenMySQL(dataSourceName string) (*gorm.DB, error) {
	database, openError := gorm.Open(mysql.Open(dataSourceName), &gorm.Config{})
	if openError != nil {
		return nil, fmt.Errorf(databaseOpenErrorTemplate, openError)
	}
	return database, nil
}

// GormSink persists runs and results in one transaction.
type GormSink struct {
	database *gorm.DB
}

// NewGormSink builds the sink, creating the tables when migrate is set.
func NewGormSink(database *gorm.DB, migrate bool) (*GormSink, error) {
	if migrate {
		if migrateError := database.AutoMigrate(&AuditRunRecord{}, &AuditResultRecord{}); migrateError != nil {
			return nil, fmt.Errorf(databaseMigrateErrorTemplate, migrateError)
		}
	}
	return &GormSink{database: database}, nil
}

// Name identifies the sink.
func (sink *GormSink) Name() string {
	return gormSinkNameConstant
}

// Write stores the run row followed by its result rows.
func (sink *GormSink) Write(executionContext context.Context, run Run, results []engine.ValidationResult) error {
	runRecord, runError := NewAuditRunRecord(run)
	if runError != nil {
		return runError
	}
	resultRecords, resultsError := NewAuditResultRecords(run, results)
	if resultsError != nil {
		return resultsError
	}

	transactionError := sink.database.WithContext(executionContext).Transaction(func(transaction *gorm.DB) error {
		if createError := transaction.Create(&runRecord).Error; createError != nil {
			return createError
		}
		if len(resultRecords) == 0 {
			return nil
		}
		return transaction.CreateInBatches(resultRecords, defaultInsertBatchSizeConstant).Error
	})
	if transactionError != nil {
		return fmt.Errorf(databaseWriteErrorTemplate, transactionError)
	}
	return nil
}

// NewAuditRunRecord maps a run onto its table row.
func NewAuditRunRecord(run Run) (AuditRunRecord, error) {
	summary, marshalError := json.Marshal(run.Summary)
	if marshalError != nil {
		return AuditRunRecord{}, fmt.Errorf(databaseWriteErrorTemplate, marshalError)
	}
	return AuditRunRecord{
		ID:        run.ID,
		Source:    run.Source,
		ItemCount: run.Summary.ItemCount,
		Summary:   datatypes.JSON(summary),
		StartedAt: run.StartedAt,
	}, nil
}

// NewAuditResultRecords maps results onto table rows. Issues and metadata are stored as JSON.
func NewAuditResultRecords(run Run, results []engine.ValidationResult) ([]AuditResultRecord, error) {
	records := make([]AuditResultRecord, 0, len(results))
	for resultIndex, result := range results {
		issues, issuesError := json.Marshal(result.Issues)
		if issuesError != nil {
			return nil, fmt.Errorf(recordMarshalErrorTemplate, resultIndex, issuesError)
		}
		metadata, metadataError := json.Marshal(result.Metadata)
		if metadataError != nil {
			return nil, fmt.Errorf(recordMarshalErrorTemplate, resultIndex, metadataError)
		}
		flat := NewRecord(run, result)
		records = append(records, AuditResultRecord{
			RunID:           run.ID,
			Sheet:           flat.Sheet,
			Sequence:        flat.Sequence,
			Description:     flat.Description,
			Status:          flat.Status,
			Band:            flat.Band,
			ChargeGroup:     flat.ChargeGroup,
			DraftRate:       flat.DraftRate,
			ReferenceRate:   flat.ReferenceRate,
			Provenance:      flat.Provenance,
			VariancePercent: flat.VariancePercent,
			AutoFail:        flat.AutoFail,
			RiskScore:       flat.RiskScore,
			Issues:          datatypes.JSON(issues),
			Metadata:        datatypes.JSON(metadata),
		})
	}
	return records, nil
}
