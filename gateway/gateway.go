package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/apollographql/router-sub000/federation/executor"
	"github.com/apollographql/router-sub000/federation/graph"
	"github.com/apollographql/router-sub000/federation/operation"
	"github.com/apollographql/router-sub000/federation/planner"
)

type GatewayService struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	// SchemaFiles hold the subgraph's SDL. When empty the SDL is fetched
	// from the host with { _service { sdl } }.
	SchemaFiles []string    `yaml:"schema_files"`
	Retry       RetryOption `yaml:"retry"`
}

type GatewayOption struct {
	Endpoint        string               `yaml:"endpoint"`
	ServiceName     string               `yaml:"service_name"`
	Port            int                  `yaml:"port"`
	TimeoutDuration string               `yaml:"timeout_duration" default:"5s"`
	Services        []GatewayService     `yaml:"services"`
	Opentelemetry   OpentelemetrySetting `yaml:"opentelemetry"`
}

type OpentelemetrySetting struct {
	TracingSetting OpentelemetryTracingSetting `yaml:"tracing"`
}

type OpentelemetryTracingSetting struct {
	Enable   bool   `yaml:"enable" default:"false"`
	Endpoint string `yaml:"endpoint"`
}

// Gateway is the GraphQL endpoint handler: it validates incoming
// operations against the composed schema, plans them and executes the
// plan against the subgraphs.
type Gateway struct {
	graphQLEndpoint string
	serviceName     string
	planner         *planner.Planner
	executor        *executor.Executor
	supergraph      *graph.Supergraph
	store           *schemaStore
	settings        GatewayOption
	logger          *zap.Logger
}

var _ http.Handler = (*Gateway)(nil)

// NewGateway builds a gateway from the configured services, reading each
// service's schema files or fetching its SDL over HTTP when none are
// configured.
func NewGateway(settings GatewayOption, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := newSubgraphClient(settings)
	sdls := make(map[string]string, len(settings.Services))
	hosts := make(map[string]string, len(settings.Services))
	for _, s := range settings.Services {
		var sdl []byte
		for _, f := range s.SchemaFiles {
			src, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read schema for service %s: %w", s.Name, err)
			}
			sdl = append(sdl, src...)
			sdl = append(sdl, '\n')
		}
		if len(sdl) == 0 {
			fetched, err := fetchSDL(s.Host, httpClient, s.Retry)
			if err != nil {
				return nil, err
			}
			sdl = []byte(fetched)
		}
		sdls[s.Name] = string(sdl)
		hosts[s.Name] = s.Host
	}

	engine, err := buildEngine(sdls, hosts, httpClient, logger)
	if err != nil {
		return nil, err
	}

	return &Gateway{
		graphQLEndpoint: settings.Endpoint,
		serviceName:     settings.ServiceName,
		planner:         engine.planner,
		executor:        engine.executor,
		supergraph:      engine.supergraph,
		store:           &schemaStore{sdls: sdls, hosts: hosts, engine: engine},
		settings:        settings,
		logger:          logger,
	}, nil
}

// LoadConfig reads a YAML gateway configuration.
func LoadConfig(path string) (GatewayOption, error) {
	var settings GatewayOption
	src, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(src, &settings); err != nil {
		return settings, fmt.Errorf("failed to parse config: %w", err)
	}
	if settings.Endpoint == "" {
		settings.Endpoint = "/graphql"
	}
	if settings.Port == 0 {
		settings.Port = 8080
	}
	return settings, nil
}

func newSubgraphClient(settings GatewayOption) *http.Client {
	timeout := 5 * time.Second
	if settings.TimeoutDuration != "" {
		if d, err := time.ParseDuration(settings.TimeoutDuration); err == nil {
			timeout = d
		}
	}
	httpClient := &http.Client{Timeout: timeout}
	if settings.Opentelemetry.TracingSetting.Enable {
		httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	return httpClient
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", requestID)
	logger := g.logger.With(zap.String("request_id", requestID))

	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	plan, err := g.planner.Plan(req.Query, req.OperationName)
	if err != nil {
		logger.Debug("planning failed", zap.Error(err))
		writeErrors(w, err.Error(), "GRAPHQL_VALIDATION_FAILED")
		return
	}

	if err := g.validateAccessibility(plan.Operation.SelectionSet()); err != nil {
		writeErrors(w, err.Error(), "INACCESSIBLE_FIELD")
		return
	}

	resp, err := g.executor.Execute(r.Context(), plan, req.Variables)
	if err != nil {
		logger.Error("execution failed", zap.Error(err))
		writeErrors(w, err.Error(), "INTERNAL_SERVER_ERROR")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to write response", zap.Error(err))
	}
}

func writeErrors(w http.ResponseWriter, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]any{
			{
				"message":    message,
				"extensions": map[string]string{"code": code},
			},
		},
	})
}

// validateAccessibility rejects operations selecting fields any subgraph
// marks @inaccessible. The composed schema still contains such fields,
// so this runs after validation.
func (g *Gateway) validateAccessibility(ss *operation.SelectionSet) error {
	if ss == nil {
		return nil
	}
	for _, sel := range ss.Selections() {
		if fs, ok := sel.(*operation.FieldSelection); ok && !fs.Field().IsTypename() {
			typeName := fs.Field().ParentType().Name
			fieldName := fs.Field().Name()
			if g.supergraph.FieldIsInaccessible(typeName, fieldName) {
				return fmt.Errorf("cannot query field %q on type %q", fieldName, typeName)
			}
		}
		if err := g.validateAccessibility(sel.SelectionSet()); err != nil {
			return err
		}
	}
	return nil
}
