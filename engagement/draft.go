package engagement

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"
)

// Draft holds the auto-saved values of a multi-step form.
type Draft struct {
	Step    int               `json:"step"`
	Fields  map[string]string `json:"fields"`
	SavedAt int64             `json:"savedAt"`
}

// DraftStore persists a form draft under a single storage key so a visitor
// can resume where they left off.
type DraftStore struct {
	storage Storage
	key     string
	clock   Clock
	logger  *zap.Logger
}

func NewDraftStore(storage Storage, key string, clock Clock, logger *zap.Logger) *DraftStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DraftStore{storage: storage, key: key, clock: clock, logger: logger}
}

// Save writes the current step and field values.
func (d *DraftStore) Save(step int, fields map[string]string) error {
	draft := Draft{Step: step, Fields: maps.Clone(fields), SavedAt: d.clock.Now().UnixMilli()}
	b, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	if err := d.storage.Write(d.key, string(b)); err != nil {
		d.logger.Warn("draft storage write failed", zap.String("key", d.key), zap.Error(err))
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// Load returns the saved draft, or false when there is none or it cannot
// be read.
func (d *DraftStore) Load() (Draft, bool) {
	raw, ok, err := d.storage.Read(d.key)
	if err != nil {
		d.logger.Warn("draft storage read failed", zap.String("key", d.key), zap.Error(err))
		return Draft{}, false
	}
	if !ok || raw == "" {
		return Draft{}, false
	}
	var draft Draft
	if err := json.Unmarshal([]byte(raw), &draft); err != nil {
		return Draft{}, false
	}
	if draft.Fields == nil {
		draft.Fields = map[string]string{}
	}
	return draft, true
}

// SavedTime returns when the draft was last saved.
func (dr Draft) SavedTime() time.Time {
	return time.UnixMilli(dr.SavedAt)
}

// Clear discards the draft, typically after a successful submission.
func (d *DraftStore) Clear() error {
	return d.storage.Write(d.key, "")
}
