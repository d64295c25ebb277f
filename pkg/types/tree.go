package types

// CountState says how far a tree node's displayed child count can be trusted.
type CountState string

const (
	// CountIndeterminate: changes are still arriving; show a spinner.
	CountIndeterminate CountState = "indeterminate"
	// CountUnspecified: changes stopped; the client must recompute the count.
	CountUnspecified CountState = "unspecified"
	// CountDeterminate: Value is authoritative.
	CountDeterminate CountState = "determinate"
)

// DisplayCount is the child count a tree node shows.
type DisplayCount struct {
	State CountState `json:"state"`
	Value int64      `json:"value,omitempty"`
}

var (
	Indeterminate = DisplayCount{State: CountIndeterminate}
	Unspecified   = DisplayCount{State: CountUnspecified}
)

// Determinate returns a count with a known value.
func Determinate(n int64) DisplayCount {
	return DisplayCount{State: CountDeterminate, Value: n}
}

// TreeEvent tells a UI client how to redraw one tree node.
type TreeEvent struct {
	Key             DAOEventKey  `json:"key"`
	Count           DisplayCount `json:"count"`
	RefreshRequired bool         `json:"refresh_required"`
}

// ProvisionalTreeEvent marks key as changing: count unknown, no refetch yet.
func ProvisionalTreeEvent(key DAOEventKey) TreeEvent {
	return TreeEvent{Key: key, Count: Indeterminate}
}

// SettledTreeEvent marks key as quiet: the client should refetch its count.
func SettledTreeEvent(key DAOEventKey) TreeEvent {
	return TreeEvent{Key: key, Count: Unspecified, RefreshRequired: true}
}
