// Package checkpoint persists the durable send progress cursor of a run.
package checkpoint

import "encoding/json"

// Checkpoint modes. ITEM marks progress after each completed unit, while
// CHUNK_SYNC marks a post-chunk reconciliation flush.
const (
	ModeItem      = "ITEM"
	ModeChunkSync = "CHUNK_SYNC"
)

// State is the progress cursor written after every completed send unit.
type State struct {
	RunID     string `json:"run_id"`
	DoneUnits int    `json:"done_units"`
	DoneFiles int    `json:"done_files"`
	UpdatedAt string `json:"updated_at"`
	Mode      string `json:"checkpoint_mode"`
	Reason    string `json:"checkpoint_reason"`
}

// stateDoc mirrors State for decoding, accepting the retired done_items key
// that older cursors used instead of done_units.
type stateDoc struct {
	RunID     string `json:"run_id"`
	DoneUnits *int   `json:"done_units"`
	DoneItems *int   `json:"done_items"`
	DoneFiles int    `json:"done_files"`
	UpdatedAt string `json:"updated_at"`
	Mode      string `json:"checkpoint_mode"`
	Reason    string `json:"checkpoint_reason"`
}

// UnmarshalJSON decodes a cursor document, falling back to the legacy
// done_items key when done_units is absent.
func (s *State) UnmarshalJSON(data []byte) error {
	var doc stateDoc

	err := json.Unmarshal(data, &doc)
	if err != nil {
		return err
	}

	s.RunID = doc.RunID
	s.DoneFiles = doc.DoneFiles
	s.UpdatedAt = doc.UpdatedAt
	s.Mode = doc.Mode
	s.Reason = doc.Reason

	switch {
	case doc.DoneUnits != nil:
		s.DoneUnits = *doc.DoneUnits
	case doc.DoneItems != nil:
		s.DoneUnits = *doc.DoneItems
	}

	return nil
}
