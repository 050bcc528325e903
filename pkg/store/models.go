package store

import "time"

// Test case results.
const (
	ResultPassed  = "PASSED"
	ResultFailed  = "FAILED"
	ResultSkipped = "SKIPPED"
)

// BuildRun is one row per build or matrix sub-build.
type BuildRun struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Project     string `gorm:"size:64;index" json:"project"`
	BuildNumber int    `json:"build_number"`

	// SubBuildLabel is nil for root builds, never the empty string.
	SubBuildLabel *string   `gorm:"size:1024" json:"sub_build_label"`
	Node          string    `gorm:"size:64" json:"node"`
	StartTime     time.Time `gorm:"index" json:"start_time"`

	// Duration is in whole seconds.
	Duration   int       `json:"duration"`
	Result     string    `gorm:"size:16" json:"result"`
	URL        string    `gorm:"size:1024" json:"url"`
	InsertedAt time.Time `json:"inserted_at"`
}

// TableName returns the default table for build rows.
func (BuildRun) TableName() string { return "builds" }

// TestResult is one row per test case per build or matrix sub-build.
type TestResult struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Project       string    `gorm:"size:64;index" json:"project"`
	BuildNumber   int       `json:"build_number"`
	SubBuildLabel *string   `gorm:"size:1024" json:"sub_build_label"`
	Package       string    `gorm:"column:test_package;size:256" json:"package"`
	Class         string    `gorm:"column:test_class;size:256" json:"class"`
	Case          string    `gorm:"column:test_case;size:256" json:"case"`
	FullName      string    `gorm:"column:test_full_name;size:1024" json:"full_name"`
	StartTime     time.Time `gorm:"index" json:"start_time"`

	// Duration is in seconds.
	Duration   float64   `json:"duration"`
	Result     string    `gorm:"size:16" json:"result"`
	URL        string    `gorm:"size:1024" json:"url"`
	InsertedAt time.Time `json:"inserted_at"`
}

// TableName returns the default table for test case rows.
func (TestResult) TableName() string { return "test_results" }

// TableStats summarises one table.
type TableStats struct {
	Table          string     `json:"table"`
	Rows           int64      `json:"rows"`
	LastInsertedAt *time.Time `json:"last_inserted_at,omitempty"`
}
