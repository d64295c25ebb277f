package types

import (
	"fmt"
	"strings"
)

// Kind is the category of case data a change event touches.
type Kind string

const (
	KindArtifact  Kind = "artifact"
	KindFile      Kind = "file"
	KindTag       Kind = "tag"
	KindHost      Kind = "host"
	KindOSAccount Kind = "os_account"
	KindScore     Kind = "score"
	KindEmail     Kind = "email"
)

// Kinds lists every known kind in display order.
var Kinds = []Kind{KindArtifact, KindFile, KindTag, KindHost, KindOSAccount, KindScore, KindEmail}

// Known reports whether k is one of Kinds.
func (k Kind) Known() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind accepts a kind name in any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Known() {
		return "", fmt.Errorf("types: unknown kind %q", s)
	}
	return k, nil
}

// DAOEventKey identifies one tree node whose contents changed: a kind, the
// kind-specific type id (artifact type, tag name id, ...) and the data source
// it belongs to. It is comparable and used directly as the coalescing key.
type DAOEventKey struct {
	Kind         Kind  `json:"kind"`
	TypeID       int64 `json:"type_id"`
	DataSourceID int64 `json:"data_source_id"`
}

func (k DAOEventKey) String() string {
	return fmt.Sprintf("%s/%d@%d", k.Kind, k.TypeID, k.DataSourceID)
}
