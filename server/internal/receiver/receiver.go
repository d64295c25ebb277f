package receiver

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/casewatch/casewatch/pkg/types"
	"github.com/casewatch/casewatch/pkg/wire"
	"github.com/casewatch/casewatch/server/internal/refresh"
	"github.com/casewatch/casewatch/server/internal/store"
)

// Processor is the part of refresh.Aggregator the receiver drives.
type Processor interface {
	Process(events []types.ChangeEvent) refresh.Result
	IngestComplete() int
}

// Receiver implements wire.IngestServer.
type Receiver struct {
	proc  Processor
	store *store.Store
}

var _ wire.IngestServer = (*Receiver)(nil)

// New creates a Receiver feeding proc and recording producers in st.
func New(proc Processor, st *store.Store) *Receiver {
	return &Receiver{proc: proc, store: st}
}

// Enqueue is the unary RPC producers call with each batch.
func (r *Receiver) Enqueue(ctx context.Context, req *wire.EnqueueRequest) (*wire.EnqueueResponse, error) {
	if err := ValidateEvents(req.Events); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	r.store.Record(req.Source, req.BatchID, len(req.Events))
	res := r.proc.Process(req.Events)

	slog.Debug("receiver: batch processed",
		"source", req.Source,
		"batch_id", req.BatchID,
		"accepted", res.Accepted,
		"newly_seen", res.NewlySeen,
		"ignored", res.Ignored,
	)

	return &wire.EnqueueResponse{
		Accepted:  res.Accepted,
		NewlySeen: res.NewlySeen,
		Ignored:   res.Ignored,
	}, nil
}

// IngestComplete flushes every pending refresh.
func (r *Receiver) IngestComplete(ctx context.Context, req *wire.IngestCompleteRequest) (*wire.IngestCompleteResponse, error) {
	n := r.proc.IngestComplete()
	slog.Info("receiver: ingest complete", "source", req.Source, "flushed", n)
	return &wire.IngestCompleteResponse{Flushed: n}, nil
}

// ValidateEvents rejects an empty batch or any event that cannot be keyed.
// The REST API applies the same rules.
func ValidateEvents(events []types.ChangeEvent) error {
	if len(events) == 0 {
		return fmt.Errorf("events are required")
	}
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}
	return nil
}
