package registry

import (
	"io"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/apollographql/router-sub000/gateway"
)

// Registry owns the live gateway handler and swaps it atomically when a
// subgraph registers a new schema. Requests in flight keep the handler
// they started with.
type Registry struct {
	currentGateway atomic.Value
	nextGateway    atomic.Value
	registerChan   chan struct{}
	logger         *zap.Logger
}

func NewRegistry(initialGateway http.Handler, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		registerChan: make(chan struct{}),
		logger:       logger,
	}
	r.currentGateway.Store(initialGateway)
	return r
}

// Start consumes registration signals and promotes the staged gateway.
// It blocks; run it on its own goroutine.
func (r *Registry) Start() {
	for range r.registerChan {
		r.currentGateway.Store(r.nextGateway.Load().(http.Handler))
		r.logger.Info("gateway swapped after schema registration")
	}
}

// AppliedGateway returns the handler serving traffic right now.
func (r *Registry) AppliedGateway() http.Handler {
	return r.currentGateway.Load().(http.Handler)
}

// RegisterGateway handles a schema registration request: it composes a
// new gateway against the updated schema set and stages it for the swap
// loop. Composition failures leave the current gateway serving.
func (r *Registry) RegisterGateway(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	current := r.currentGateway.Load().(http.Handler)
	next, err := gateway.GenerateNextGateway(current, body)
	if err != nil {
		r.logger.Warn("schema registration rejected", zap.Error(err))
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	r.nextGateway.Store(next)
	r.registerChan <- struct{}{}
	w.WriteHeader(http.StatusNoContent)
}
