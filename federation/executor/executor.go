package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/apollographql/router-sub000/federation/operation"
	"github.com/apollographql/router-sub000/federation/planner"
)

// GraphQLError is an error entry of a GraphQL response.
type GraphQLError struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// Response is the merged result of a plan's fetches, shaped to the
// client's operation.
type Response struct {
	Data   map[string]interface{} `json:"data"`
	Errors []GraphQLError         `json:"errors,omitempty"`
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// Executor runs plans: it posts each step's query to its subgraph,
// feeds entity fetches with representations from earlier data and merges
// everything into one response.
type Executor struct {
	client *http.Client
	logger *zap.Logger
}

// New builds an Executor on the given HTTP client.
func New(client *http.Client, opts ...Option) *Executor {
	e := &Executor{client: client, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// executionState is the shared state of one plan run. The data tree and
// error list are guarded by mu; steps in the same wave run in parallel.
type executionState struct {
	mu     sync.Mutex
	data   map[string]interface{}
	errors []GraphQLError
	done   map[int]bool
}

// Execute runs the plan's steps in dependency order, waves of
// independent steps in parallel, and returns the merged response pruned
// to the client's selections. Subgraph failures surface as response
// errors, not as a failed execution.
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan, variables map[string]interface{}) (*Response, error) {
	if plan.HasDefer {
		return nil, fmt.Errorf("@defer execution is not supported")
	}
	state := &executionState{
		data: make(map[string]interface{}),
		done: make(map[int]bool),
	}

	for len(state.done) < len(plan.Steps) {
		ready := readySteps(plan, state.done)
		if len(ready) == 0 {
			return nil, fmt.Errorf("plan contains circular dependencies")
		}
		eg, egCtx := errgroup.WithContext(ctx)
		for _, step := range ready {
			step := step
			eg.Go(func() error {
				e.runStep(egCtx, state, plan, step, variables)
				return egCtx.Err()
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
		for _, step := range ready {
			state.done[step.ID] = true
		}
	}

	data := pruneToOperation(state.data, plan.Operation.SelectionSet())
	pruned, _ := data.(map[string]interface{})
	return &Response{Data: pruned, Errors: state.errors}, nil
}

func readySteps(plan *planner.Plan, done map[int]bool) []*planner.Step {
	var ready []*planner.Step
	for _, step := range plan.Steps {
		if done[step.ID] {
			continue
		}
		ok := true
		for _, dep := range step.DependsOn {
			if !done[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, step)
		}
	}
	return ready
}

// runStep performs one fetch and merges its data. Failures are recorded
// as response errors.
func (e *Executor) runStep(ctx context.Context, state *executionState, plan *planner.Plan, step *planner.Step, variables map[string]interface{}) {
	vars := make(map[string]interface{}, len(step.VariableNames)+1)
	for _, name := range step.VariableNames {
		if v, ok := variables[name]; ok {
			vars[name] = v
		}
	}

	var targets []map[string]interface{}
	if step.Type == planner.StepTypeEntity {
		state.mu.Lock()
		var reps []map[string]interface{}
		targets, reps = collectEntityTargets(state.data, step)
		state.mu.Unlock()
		if len(targets) == 0 {
			return
		}
		vars["representations"] = reps
	}

	body, err := e.send(ctx, step.Subgraph.URL, step.Query, vars)
	if err != nil {
		e.logger.Warn("subgraph fetch failed",
			zap.String("subgraph", step.Subgraph.Name),
			zap.Error(err))
		e.recordFailure(state, step, err)
		return
	}

	dataRaw := gjson.GetBytes(body, "data")
	if dataRaw.Exists() && len(step.OutputRewrites) > 0 {
		var prefix []operation.PathElement
		if step.Type == planner.StepTypeEntity {
			prefix = []operation.PathElement{operation.KeyPathElement("_entities")}
		}
		rewritten, err := applyRewrites([]byte(dataRaw.Raw), step.OutputRewrites, prefix)
		if err != nil {
			e.recordFailure(state, step, err)
			return
		}
		dataRaw = gjson.ParseBytes(rewritten)
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	recordSubgraphErrors(state, step, body)
	if !dataRaw.Exists() || dataRaw.Type == gjson.Null {
		return
	}

	if step.Type == planner.StepTypeRoot {
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(dataRaw.Raw), &decoded); err != nil {
			e.recordFailureLocked(state, step, fmt.Errorf("invalid subgraph response: %w", err))
			return
		}
		for k, v := range decoded {
			state.data[k] = v
		}
		return
	}

	var decoded struct {
		Entities []map[string]interface{} `json:"_entities"`
	}
	if err := json.Unmarshal([]byte(dataRaw.Raw), &decoded); err != nil {
		e.recordFailureLocked(state, step, fmt.Errorf("invalid entity response: %w", err))
		return
	}
	for i, target := range targets {
		if i >= len(decoded.Entities) {
			break
		}
		mergeObject(target, decoded.Entities[i])
	}
}

// collectEntityTargets walks the data tree along the step's insertion
// path and returns the objects the entity results merge into, paired
// with the representations built from their key fields. Objects whose
// runtime type does not match a "... on Type" segment, or that miss a
// key field, are skipped.
func collectEntityTargets(data map[string]interface{}, step *planner.Step) (targets []map[string]interface{}, reps []map[string]interface{}) {
	var walk func(value interface{}, path []operation.PathElement)
	walk = func(value interface{}, path []operation.PathElement) {
		switch v := value.(type) {
		case []interface{}:
			for _, item := range v {
				walk(item, path)
			}
		case map[string]interface{}:
			if len(path) == 0 {
				if rep := buildRepresentation(v, step.ParentType, step.KeyFields); rep != nil {
					targets = append(targets, v)
					reps = append(reps, rep)
				}
				return
			}
			head, rest := path[0], path[1:]
			if head.Kind == operation.PathTypenameEquals {
				if tn, ok := v["__typename"].(string); ok && tn != head.Name {
					return
				}
				walk(v, rest)
				return
			}
			if next, ok := v[head.Name]; ok {
				walk(next, rest)
			}
		}
	}
	walk(data, step.InsertionPath)
	return targets, reps
}

func buildRepresentation(entity map[string]interface{}, typeName string, keyFields []string) map[string]interface{} {
	rep := map[string]interface{}{"__typename": typeName}
	if tn, ok := entity["__typename"].(string); ok {
		rep["__typename"] = tn
	}
	for _, name := range keyFields {
		value, ok := entity[name]
		if !ok {
			return nil
		}
		rep[name] = value
	}
	return rep
}

func mergeObject(target, source map[string]interface{}) {
	for k, v := range source {
		existing, ok := target[k]
		if !ok {
			target[k] = v
			continue
		}
		switch ev := existing.(type) {
		case map[string]interface{}:
			if sv, ok := v.(map[string]interface{}); ok {
				mergeObject(ev, sv)
				continue
			}
			target[k] = v
		case []interface{}:
			sv, ok := v.([]interface{})
			if !ok || len(sv) != len(ev) {
				target[k] = v
				continue
			}
			for i := range ev {
				em, ok1 := ev[i].(map[string]interface{})
				sm, ok2 := sv[i].(map[string]interface{})
				if ok1 && ok2 {
					mergeObject(em, sm)
				} else {
					ev[i] = sv[i]
				}
			}
		default:
			target[k] = v
		}
	}
}

func (e *Executor) recordFailure(state *executionState, step *planner.Step, err error) {
	state.mu.Lock()
	defer state.mu.Unlock()
	e.recordFailureLocked(state, step, err)
}

// recordFailureLocked records the error and nulls the response keys the
// step owns, so the response stays partial rather than failing whole.
func (e *Executor) recordFailureLocked(state *executionState, step *planner.Step, err error) {
	state.errors = append(state.errors, GraphQLError{
		Message: err.Error(),
		Path:    errorPath(step),
		Extensions: map[string]interface{}{
			"serviceName": step.Subgraph.Name,
		},
	})
	if step.Type == planner.StepTypeRoot {
		for _, key := range step.ResponseKeys {
			state.data[key] = nil
		}
	}
}

func recordSubgraphErrors(state *executionState, step *planner.Step, body []byte) {
	for _, item := range gjson.GetBytes(body, "errors").Array() {
		message := item.Get("message").String()
		if message == "" {
			message = "unknown error from subgraph"
		}
		gqlErr := GraphQLError{
			Message: message,
			Path:    errorPath(step),
			Extensions: map[string]interface{}{
				"serviceName": step.Subgraph.Name,
			},
		}
		for _, p := range item.Get("path").Array() {
			gqlErr.Path = append(gqlErr.Path, p.Value())
		}
		if ext := item.Get("extensions"); ext.IsObject() {
			for k, v := range ext.Map() {
				gqlErr.Extensions[k] = v.Value()
			}
		}
		state.errors = append(state.errors, gqlErr)
	}
}

func errorPath(step *planner.Step) []interface{} {
	var path []interface{}
	for _, elem := range step.InsertionPath {
		if elem.Kind == operation.PathKey {
			path = append(path, elem.Name)
		}
	}
	return path
}

// send posts one GraphQL request and returns the raw response body.
func (e *Executor) send(ctx context.Context, url, query string, variables map[string]interface{}) ([]byte, error) {
	reqBody := map[string]interface{}{"query": query}
	if len(variables) > 0 {
		reqBody["variables"] = variables
	}
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subgraph returned status %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("subgraph returned invalid JSON")
	}
	return body, nil
}
