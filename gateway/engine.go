package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/apollographql/router-sub000/federation/executor"
	"github.com/apollographql/router-sub000/federation/graph"
	"github.com/apollographql/router-sub000/federation/planner"
)

// executionEngine bundles the read-only components serving one composed
// schema generation.
type executionEngine struct {
	planner    *planner.Planner
	executor   *executor.Executor
	supergraph *graph.Supergraph
}

// schemaStore holds the current set of raw SDLs, host URLs, and the
// engine built from them. Values are stored behind atomic swaps, so a
// store must be read-only once constructed.
type schemaStore struct {
	sdls   map[string]string // subgraph name -> SDL
	hosts  map[string]string // subgraph name -> base URL
	engine *executionEngine
}

// buildEngine composes a supergraph from the given SDLs and hosts and
// wraps it with a planner and executor. Map iteration order varies per
// run; composition is order-independent.
func buildEngine(sdls, hosts map[string]string, httpClient *http.Client, logger *zap.Logger) (*executionEngine, error) {
	subgraphs := make([]*graph.Subgraph, 0, len(sdls))
	for name, sdl := range sdls {
		sub, err := graph.NewSubgraph(name, hosts[name], sdl)
		if err != nil {
			return nil, fmt.Errorf("failed to build subgraph %q: %w", name, err)
		}
		subgraphs = append(subgraphs, sub)
	}

	supergraph, err := graph.NewSupergraph(subgraphs...)
	if err != nil {
		return nil, fmt.Errorf("composition failed: %w", err)
	}

	pl, err := planner.New(supergraph, planner.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &executionEngine{
		planner:    pl,
		executor:   executor.New(httpClient, executor.WithLogger(logger)),
		supergraph: supergraph,
	}, nil
}

// schemaRegistration is the body of a POST to the registration
// endpoint. SDL may be omitted, in which case it is fetched from the
// host.
type schemaRegistration struct {
	Name string `json:"name"`
	Host string `json:"host"`
	SDL  string `json:"sdl"`
}

// GenerateNextGateway builds a new gateway from the current one with a
// subgraph's schema replaced or added. The current gateway stays
// untouched; the caller swaps handlers once the new one composes.
func GenerateNextGateway(current http.Handler, body []byte) (http.Handler, error) {
	g, ok := current.(*Gateway)
	if !ok {
		return nil, fmt.Errorf("current handler is not a gateway")
	}

	var reg schemaRegistration
	if err := json.Unmarshal(body, &reg); err != nil {
		return nil, fmt.Errorf("invalid registration body: %w", err)
	}
	if reg.Name == "" || reg.Host == "" {
		return nil, fmt.Errorf("registration requires name and host")
	}

	httpClient := newSubgraphClient(g.settings)
	sdl := reg.SDL
	if sdl == "" {
		fetched, err := fetchSDL(reg.Host, httpClient, RetryOption{})
		if err != nil {
			return nil, err
		}
		sdl = fetched
	}

	sdls := copyMap(g.store.sdls)
	hosts := copyMap(g.store.hosts)
	sdls[reg.Name] = sdl
	hosts[reg.Name] = reg.Host

	engine, err := buildEngine(sdls, hosts, httpClient, g.logger)
	if err != nil {
		return nil, err
	}

	return &Gateway{
		graphQLEndpoint: g.graphQLEndpoint,
		serviceName:     g.serviceName,
		planner:         engine.planner,
		executor:        engine.executor,
		supergraph:      engine.supergraph,
		store:           &schemaStore{sdls: sdls, hosts: hosts, engine: engine},
		settings:        g.settings,
		logger:          g.logger,
	}, nil
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
