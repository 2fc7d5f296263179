// Package replay implements the relational replay archive (C12): a
// queryable mirror of the terminal session.ReplayExport blobs the store
// already keeps under "replay:{id}", indexed by session, state, and
// export time. The boundary adapter writes to it from the replay route;
// no route reads from it.
package replay

import (
	"encoding/json"
	"time"

	"github.com/browserpilot/engine/session"
)

// Record is the gorm model backing the replay_records table (see
// migrations/0001_init.up.sql). It stores the full ReplayExport as a JSON
// blob alongside the columns worth indexing on directly.
type Record struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	SessionID   string    `gorm:"column:session_id;index"`
	State       string    `gorm:"column:state;index"`
	TaskCount   int       `gorm:"column:task_count"`
	ActionCount int       `gorm:"column:action_count"`
	StepsTaken  int       `gorm:"column:steps_taken"`
	LLMTokens   int       `gorm:"column:llm_tokens"`
	FinalURL    string    `gorm:"column:final_url"`
	Blob        []byte    `gorm:"column:blob"`
	ExportedAt  time.Time `gorm:"column:exported_at;index"`
}

// TableName pins the model to the table name the embedded migration
// creates, independent of gorm's pluralization rules.
func (Record) TableName() string { return "replay_records" }

// newRecord flattens a ReplayExport into its relational row, indexable
// columns pulled out of the blob for filtering without a JSON scan.
func newRecord(export *session.ReplayExport) (*Record, error) {
	blob, err := json.Marshal(export)
	if err != nil {
		return nil, err
	}
	return &Record{
		SessionID:   export.SessionID,
		State:       string(export.State),
		TaskCount:   countTasks(export),
		ActionCount: len(export.ActionHistory),
		StepsTaken:  export.Metrics.StepsTaken,
		LLMTokens:   export.Metrics.LLMTokens,
		FinalURL:    export.FinalState.URL,
		Blob:        blob,
		ExportedAt:  export.ExportedAt,
	}, nil
}

// toExport reconstructs the original ReplayExport from the row's blob.
func (r *Record) toExport() (*session.ReplayExport, error) {
	var export session.ReplayExport
	if err := json.Unmarshal(r.Blob, &export); err != nil {
		return nil, err
	}
	return &export, nil
}

// countTasks counts the distinct TaskIDs referenced by the export's
// flattened action history, since ReplayExport does not carry the Task
// slice itself.
func countTasks(export *session.ReplayExport) int {
	seen := make(map[string]struct{}, len(export.ActionHistory))
	for _, entry := range export.ActionHistory {
		seen[entry.TaskID] = struct{}{}
	}
	return len(seen)
}
