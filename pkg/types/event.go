package types

import (
	"errors"
	"fmt"
	"time"
)

// ChangeEvent is one "something changed" record as sent by producers over
// gRPC, REST or the agent shipper.
type ChangeEvent struct {
	Kind         Kind      `json:"kind"`
	TypeID       int64     `json:"type_id"`
	DataSourceID int64     `json:"data_source_id"`
	ObjectID     int64     `json:"object_id,omitempty"`
	Path         string    `json:"path,omitempty"`
	Source       string    `json:"source,omitempty"` // producer id, e.g. agent watch id
	Time         time.Time `json:"time,omitempty"`
}

// Key returns the coalescing key of e.
func (e ChangeEvent) Key() DAOEventKey {
	return DAOEventKey{Kind: e.Kind, TypeID: e.TypeID, DataSourceID: e.DataSourceID}
}

// Validate rejects events that cannot be keyed.
func (e ChangeEvent) Validate() error {
	if e.Kind == "" {
		return errors.New("types: event kind is empty")
	}
	if !e.Kind.Known() {
		return fmt.Errorf("types: unknown kind %q", e.Kind)
	}
	if e.TypeID < 0 || e.DataSourceID < 0 {
		return fmt.Errorf("types: negative id in %s event", e.Kind)
	}
	return nil
}
