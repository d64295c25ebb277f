package api

import (
	"encoding/json"
	"net/http"

	"github.com/casewatch/casewatch/pkg/types"
	"github.com/casewatch/casewatch/server/internal/receiver"
	"github.com/casewatch/casewatch/server/internal/refresh"
	"github.com/casewatch/casewatch/server/internal/store"
)

// maxBodyBytes bounds a POST /api/v1/events body.
const maxBodyBytes = 4 << 20

// Refresher is the part of refresh.Aggregator the API uses.
type Refresher interface {
	Process(events []types.ChangeEvent) refresh.Result
	IngestComplete() int
	Pending() (tree, results []types.DAOEventKey)
	Status() refresh.Status
}

// ClientCounter reports connected stream clients (ws.Hub).
type ClientCounter interface {
	Count() int
}

// Handler serves /api/v1/*.
type Handler struct {
	refresher Refresher
	store     *store.Store
	clients   ClientCounter
	mux       *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(r Refresher, st *store.Store, clients ClientCounter) http.Handler {
	h := &Handler{refresher: r, store: st, clients: clients, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/events", h.events)
	h.mux.HandleFunc("/api/v1/ingest-complete", h.ingestComplete)
	h.mux.HandleFunc("/api/v1/pending", h.pending)
	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/producers", h.producers)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req EventsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := receiver.ValidateEvents(req.Events); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	source := req.Source
	if source == "" {
		source = "rest:" + r.RemoteAddr
	}
	h.store.Record(source, req.BatchID, len(req.Events))

	res := h.refresher.Process(req.Events)
	jsonResp(w, http.StatusOK, EventsResponse{
		Accepted:  res.Accepted,
		NewlySeen: res.NewlySeen,
		Ignored:   res.Ignored,
	})
}

func (h *Handler) ingestComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, FlushResponse{Flushed: h.refresher.IngestComplete()})
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tree, results := h.refresher.Pending()
	if tree == nil {
		tree = []types.DAOEventKey{}
	}
	if results == nil {
		results = []types.DAOEventKey{}
	}
	jsonResp(w, http.StatusOK, PendingResponse{Tree: tree, Results: results})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st := h.refresher.Status()
	resp := HealthResponse{
		Status:         "ok",
		TreeTracked:    st.TreeTracked,
		TreeArmed:      st.TreeArmed,
		ResultsPending: st.ResultsPending,
		ResultsArmed:   st.ResultsArmed,
		Producers:      len(h.store.List()),
	}
	if h.clients != nil {
		resp.Clients = h.clients.Count()
	}
	jsonResp(w, http.StatusOK, resp)
}

func (h *Handler) producers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, ProducersResponse{Producers: h.store.List()})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
