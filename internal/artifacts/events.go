package artifacts

import (
	"fmt"

	"github.com/hmd-tools/pacsflow/internal/runclock"
)

// EventType is one entry of the closed telemetry vocabulary. The writer
// refuses anything outside this set.
type EventType string

// Telemetry event vocabulary.
const (
	EventAnalysisCancelled    EventType = "ANALYSIS_CANCELLED"
	EventAnalysisEnd          EventType = "ANALYSIS_END"
	EventRunSendMode          EventType = "RUN_SEND_MODE"
	EventRunSendJavaHealth    EventType = "RUN_SEND_JAVA_HEALTHCHECK"
	EventRunSendSkipCompleted EventType = "RUN_SEND_SKIP_ALREADY_COMPLETED"
	EventRunSendResume        EventType = "RUN_SEND_RESUME"
	EventRunSendStart         EventType = "RUN_SEND_START"
	EventRunSendEnd           EventType = "RUN_SEND_END"
	EventChunkSplitPlan       EventType = "CHUNK_SPLIT_PLAN"
	EventChunkStart           EventType = "CHUNK_START"
	EventChunkJavaArgfile     EventType = "CHUNK_JAVA_ARGFILE"
	EventChunkCmdMeta         EventType = "CHUNK_CMD_META"
	EventChunkCmdOverLimit    EventType = "CHUNK_CMD_OVER_LIMIT"
	EventChunkEnd             EventType = "CHUNK_END"
	EventSendFileError        EventType = "SEND_FILE_ERROR"
	EventSendIUIDRealtime     EventType = "SEND_IUID_REALTIME"
	EventSendParseException   EventType = "SEND_PARSE_EXCEPTION"
	EventSendCancelForceKill  EventType = "SEND_CANCEL_FORCE_KILL"
	EventValidationStart      EventType = "VALIDATION_START"
	EventValidationEnd        EventType = "VALIDATION_END"
	EventConsistencyFilled    EventType = "CONSISTENCY_FILLED"
	EventConsistencyMissing   EventType = "CONSISTENCY_MISSING"
)

var knownEventTypes = map[EventType]struct{}{
	EventAnalysisCancelled:    {},
	EventAnalysisEnd:          {},
	EventRunSendMode:          {},
	EventRunSendJavaHealth:    {},
	EventRunSendSkipCompleted: {},
	EventRunSendResume:        {},
	EventRunSendStart:         {},
	EventRunSendEnd:           {},
	EventChunkSplitPlan:       {},
	EventChunkStart:           {},
	EventChunkJavaArgfile:     {},
	EventChunkCmdMeta:         {},
	EventChunkCmdOverLimit:    {},
	EventChunkEnd:             {},
	EventSendFileError:        {},
	EventSendIUIDRealtime:     {},
	EventSendParseException:   {},
	EventSendCancelForceKill:  {},
	EventValidationStart:      {},
	EventValidationEnd:        {},
	EventConsistencyFilled:    {},
	EventConsistencyMissing:   {},
}

// eventFields is the fixed schema of events.csv.
var eventFields = []string{"run_id", "event_type", "timestamp_iso", "message", "ref"}

// ErrUnknownEventType rejects events outside the closed vocabulary.
var ErrUnknownEventType = fmt.Errorf("unknown telemetry event type")

// WriteEvent appends one event to the telemetry stream at path.
func WriteEvent(path, runID string, eventType EventType, message, ref string) error {
	if _, ok := knownEventTypes[eventType]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	row := Row{
		"run_id":        runID,
		"event_type":    string(eventType),
		"timestamp_iso": runclock.NowISO(),
		"message":       message,
		"ref":           ref,
	}

	return appendEventRow(path, row)
}

// appendEventRow writes the event with the fixed schema. events.csv carries
// its own timestamp_iso column, so the dual-timestamp injection of AppendRow
// is not used here.
func appendEventRow(path string, row Row) error {
	return appendRowExactSchema(path, row, eventFields)
}
