package models

// UnmatchedRecord is a base record that found no name-bearing counterpart.
type UnmatchedRecord struct {
	Source SourceName `json:"source"`
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Reason string     `json:"reason"`
}

// EntityError records an entity whose rebuild failed.
type EntityError struct {
	EntityID string `json:"entity_id"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// ReconciliationReport summarizes one reconciliation pass.
type ReconciliationReport struct {
	Processed int  `json:"processed"`
	Created   int  `json:"created"`
	Merged    int  `json:"merged"`
	Replaced  int  `json:"replaced"`
	Skipped   int  `json:"skipped"`
	Unmatched int  `json:"unmatched"`
	Errors    int  `json:"errors"`
	Linked    int  `json:"linked"`
	Added     int  `json:"added_apartments"`
	DryRun    bool `json:"dry_run"`

	UnmatchedRecords []UnmatchedRecord  `json:"unmatched_records,omitempty"`
	EntityErrors     []EntityError      `json:"entity_errors,omitempty"`
	Warnings         []IntegrityWarning `json:"warnings,omitempty"`
}

// CollapseReport summarizes one duplicate-collapse pass.
type CollapseReport struct {
	Source         SourceName         `json:"source"`
	ClustersFound  int                `json:"clusters_found"`
	RecordsDeleted int                `json:"records_deleted"`
	DryRun         bool               `json:"dry_run"`
	Warnings       []IntegrityWarning `json:"warnings,omitempty"`
}
