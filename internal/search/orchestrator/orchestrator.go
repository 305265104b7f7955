// Package orchestrator picks retrieval agents for a query, runs them on a
// bounded worker pool and merges their results.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/internal/search/agents"
	"github.com/adaptive-search/backend/pkg/logger"
	"github.com/adaptive-search/backend/pkg/utils"
)

// dedupPrefix is how many leading runes of content identify a duplicate.
const dedupPrefix = 100

var strategyTable = map[search.Intent][]string{
	search.IntentComparison: {agents.NameVector, agents.NameGraph},
	search.IntentDefinition: {agents.NameVector},
	search.IntentFactual:    {agents.NameGraph, agents.NameVector},
	search.IntentAnalytical: {agents.NameHybrid},
	search.IntentTemporal:   {agents.NameGraph},
	search.IntentGeneral:    {agents.NameHybrid},
}

var defaultStrategy = []string{agents.NameHybrid}

// Execution is the merged outcome of one fan-out.
type Execution struct {
	Results     []search.SearchResult `json:"results"`
	Selected    []string              `json:"selected"`
	Contributed []string              `json:"contributed"`
	Failed      map[string]string     `json:"failed,omitempty"`
}

type Orchestrator struct {
	agents      map[string]agents.Agent
	pool        *ants.Pool
	callTimeout time.Duration
	topN        int
}

type Option func(*Orchestrator)

func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

func WithTopN(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.topN = n
		}
	}
}

// New registers the given agents by name and starts a pool of poolSize workers.
func New(registered []agents.Agent, poolSize int, opts ...Option) (*Orchestrator, error) {
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent pool: %w", err)
	}

	o := &Orchestrator{
		agents:      make(map[string]agents.Agent, len(registered)),
		pool:        pool,
		callTimeout: 5 * time.Second,
		topN:        5,
	}
	for _, a := range registered {
		o.agents[a.Name()] = a
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// SelectAgents applies the intent table, then adds graph for queries naming
// organisations or people and vector for long queries.
func (o *Orchestrator) SelectAgents(query string, intent search.Intent, entities search.Entities) []string {
	base, ok := strategyTable[intent]
	if !ok {
		base = defaultStrategy
	}
	selected := append([]string(nil), base...)

	if entities.Has(search.EntityOrg) || entities.Has(search.EntityPerson) {
		selected = appendMissing(selected, agents.NameGraph)
	}
	if len(strings.Fields(query)) > 10 {
		selected = appendMissing(selected, agents.NameVector)
	}
	return selected
}

func appendMissing(list []string, name string) []string {
	for _, n := range list {
		if n == name {
			return list
		}
	}
	return append(list, name)
}

type outcome struct {
	results []search.SearchResult
	err     error
}

// Execute runs the selected agents in parallel. Agent failures are recorded
// and skipped; cancellation of ctx discards everything and returns
// search.ErrCancelled.
func (o *Orchestrator) Execute(ctx context.Context, query string, intent search.Intent, entities search.Entities) (*Execution, error) {
	selected := o.SelectAgents(query, intent, entities)
	exec := &Execution{
		Results:     []search.SearchResult{},
		Selected:    selected,
		Contributed: []string{},
		Failed:      map[string]string{},
	}

	outcomes := make([]outcome, len(selected))
	var wg sync.WaitGroup
	for i, name := range selected {
		agent, ok := o.agents[name]
		if !ok {
			outcomes[i].err = fmt.Errorf("agent %q not registered", name)
			continue
		}
		i := i
		wg.Add(1)
		if err := o.pool.Submit(func() {
			defer wg.Done()
			outcomes[i] = o.run(ctx, agent, query, entities)
		}); err != nil {
			wg.Done()
			outcomes[i].err = search.Dependency(name, "submit", err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return nil, search.ErrCancelled
	case <-done:
	}
	if ctx.Err() != nil {
		return nil, search.ErrCancelled
	}

	var all []search.SearchResult
	for i, name := range selected {
		out := outcomes[i]
		if out.err != nil {
			exec.Failed[name] = out.err.Error()
			logger.Warn("Retrieval agent failed",
				zap.String("agent", name),
				zap.Error(out.err),
			)
			continue
		}
		if len(out.results) > 0 {
			exec.Contributed = append(exec.Contributed, name)
		}
		all = append(all, out.results...)
	}

	exec.Results = merge(all, o.topN)

	logger.Debug("Agents executed",
		zap.Strings("selected", exec.Selected),
		zap.Strings("contributed", exec.Contributed),
		zap.Int("results", len(exec.Results)),
	)
	return exec, nil
}

func (o *Orchestrator) run(ctx context.Context, agent agents.Agent, query string, entities search.Entities) (out outcome) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: search.Dependency(agent.Name(), "search", fmt.Errorf("panic: %v", r))}
		}
	}()

	results, err := agent.Search(callCtx, query, entities)
	if err != nil {
		return outcome{err: search.Dependency(agent.Name(), "search", err)}
	}
	return outcome{results: results}
}

// merge sorts by score and keeps the best result per content prefix.
func merge(results []search.SearchResult, n int) []search.SearchResult {
	search.SortByScore(results)

	seen := make(map[string]struct{}, len(results))
	out := make([]search.SearchResult, 0, min(n, len(results)))
	for _, r := range results {
		key := utils.HashPrefix(r.Content, dedupPrefix)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
		if len(out) == n {
			break
		}
	}
	return out
}

// Performance reports every registered agent.
func (o *Orchestrator) Performance() map[string]search.AgentPerformance {
	out := make(map[string]search.AgentPerformance, len(o.agents))
	for name, a := range o.agents {
		out[name] = a.Performance()
	}
	return out
}

// Agents lists registered agent names.
func (o *Orchestrator) Agents() []string {
	names := make([]string, 0, len(o.agents))
	for name := range o.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o *Orchestrator) Release() {
	o.pool.Release()
}
