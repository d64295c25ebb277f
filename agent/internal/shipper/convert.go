package shipper

import (
	"github.com/google/uuid"

	"github.com/casewatch/casewatch/pkg/types"
	"github.com/casewatch/casewatch/pkg/wire"
)

// maxBatchEvents caps one Enqueue request; larger bursts are split.
const maxBatchEvents = 500

// item is one buffered call: exactly one of the fields is set.
type item struct {
	enqueue  *wire.EnqueueRequest
	complete *wire.IngestCompleteRequest
}

func (it item) size() int {
	if it.enqueue != nil {
		return len(it.enqueue.Events)
	}
	return 0
}

// toRequests splits events into Enqueue requests, each with its own batch id.
func toRequests(source string, events []types.ChangeEvent) []item {
	var out []item
	for len(events) > 0 {
		n := min(len(events), maxBatchEvents)
		chunk := make([]types.ChangeEvent, n)
		copy(chunk, events[:n])
		events = events[n:]

		out = append(out, item{enqueue: &wire.EnqueueRequest{
			BatchID: uuid.NewString(),
			Source:  source,
			Events:  chunk,
		}})
	}
	return out
}
