package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/opsrun/opsrun/engine"
)

// WriteCSV exports one row per task: run metadata plus the task's final
// status, timing, and attempt count. Output data and credential values
// are deliberately not exported.
func WriteCSV(w io.Writer, result *engine.PipelineResult) error {
	cw := csv.NewWriter(w)

	header := []string{
		"run_id", "pipeline", "task", "type", "status", "required",
		"reason", "attempts", "started_at", "duration_ms",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for i := range result.Tasks {
		tr := &result.Tasks[i]
		row := []string{
			result.RunID,
			result.Pipeline,
			tr.TaskName,
			tr.TaskType,
			string(tr.Status),
			strconv.FormatBool(tr.Required),
			tr.Reason,
			strconv.Itoa(len(tr.Attempts)),
			tr.StartedAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(tr.Duration.Milliseconds(), 10),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row for %q: %w", tr.TaskName, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
