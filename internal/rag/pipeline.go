// Package rag answers natural-language questions about synced test
// data: analyze the question, retrieve matching documents, optionally
// compute metrics, assemble the prompt, and drive generation.
package rag

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rpinsight/rpinsight/internal/llm"
	"github.com/rpinsight/rpinsight/internal/log"
	"github.com/rpinsight/rpinsight/internal/query"
	"github.com/rpinsight/rpinsight/internal/store"
)

// Searcher is the retrieval side of the document store.
type Searcher interface {
	Search(ctx context.Context, text string, opts ...store.SearchOption) ([]store.Result, error)
}

// Options customizes one Query call.
type Options struct {
	// ResultCount caps retrieval; 0 means the pipeline default.
	ResultCount int

	// IncludeResults returns the retrieved documents in the answer.
	IncludeResults bool

	// Stream returns the generation as an un-consumed fragment
	// sequence instead of a buffered response.
	Stream bool
}

// Answer is one response bundle. Either Content/Model/Usage are set
// (buffered) or Stream is set and the caller drains it.
type Answer struct {
	Content  string          `json:"content,omitempty"`
	Model    string          `json:"model,omitempty"`
	Usage    llm.Usage       `json:"usage"`
	Analysis *query.Analysis `json:"analysis"`
	Results  []store.Result  `json:"results,omitempty"`
	Metrics  *Metrics        `json:"metrics,omitempty"`
	Refined  bool            `json:"refined,omitempty"`
	Stream   llm.Stream      `json:"-"`
}

// Pipeline wires the query processor, the document store, and the LLM
// provider into the question-answering flow.
type Pipeline struct {
	provider       llm.Provider
	storage        Searcher
	processor      *query.Processor
	defaultResults int
	logger         log.Logger
}

// New creates a pipeline. defaultResults caps retrieval when the
// caller does not override it (falls back to 20).
func New(provider llm.Provider, storage Searcher, processor *query.Processor, defaultResults int, logger log.Logger) *Pipeline {
	if defaultResults <= 0 {
		defaultResults = 20
	}
	return &Pipeline{
		provider:       provider,
		storage:        storage,
		processor:      processor,
		defaultResults: defaultResults,
		logger:         logger,
	}
}

// retrieval is the shared first half of every question: analysis,
// filtered search, optional metrics, rendered context.
type retrieval struct {
	analysis *query.Analysis
	results  []store.Result
	metrics  *Metrics
	context  string
}

func (p *Pipeline) retrieve(ctx context.Context, question string, resultCount int) (*retrieval, error) {
	analysis := p.processor.Analyze(question)

	if resultCount <= 0 {
		resultCount = p.defaultResults
	}
	opts := []store.SearchOption{store.WithLimit(resultCount)}
	if len(analysis.EntityTypes) > 0 {
		opts = append(opts, store.WithKinds(analysis.EntityTypes...))
	}
	if len(analysis.Statuses) > 0 {
		opts = append(opts, store.WithStatuses(analysis.Statuses...))
	}

	results, err := p.storage.Search(ctx, query.BuildSearchQuery(analysis), opts...)
	if err != nil {
		return nil, fmt.Errorf("retrieving documents: %w", err)
	}

	r := &retrieval{
		analysis: analysis,
		results:  results,
		context:  llm.FormatContext(results),
	}
	if analysis.MetricsRequested {
		r.metrics = ComputeMetrics(results)
		metricsJSON, err := json.MarshalIndent(r.metrics, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("serializing metrics: %w", err)
		}
		r.context += "\n\n---\n\nCalculated Metrics:\n" + string(metricsJSON)
	}

	p.logger.Debug("retrieval completed",
		"intent", analysis.Intent,
		"entity_types", analysis.EntityTypes,
		"results", len(results),
		"metrics", analysis.MetricsRequested)
	return r, nil
}

// Query answers one question.
func (p *Pipeline) Query(ctx context.Context, question string, opts Options) (*Answer, error) {
	r, err := p.retrieve(ctx, question, opts.ResultCount)
	if err != nil {
		return nil, err
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: query.BuildSystemPrompt(r.analysis)},
		{Role: llm.RoleUser, Content: userPrompt(question, r.context)},
	}

	return p.generate(ctx, messages, r, opts, false)
}

// QueryWithFeedback refines a previous answer: retrieval runs against
// the feedback-augmented question, and the exchange replays the
// original question, the previous answer, and a corrective turn.
func (p *Pipeline) QueryWithFeedback(ctx context.Context, question, previousResponse, feedback string, opts Options) (*Answer, error) {
	refined := fmt.Sprintf("%s (User feedback: %s)", question, feedback)
	r, err := p.retrieve(ctx, refined, opts.ResultCount)
	if err != nil {
		return nil, err
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: query.BuildSystemPrompt(r.analysis)},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Original query: %s", question)},
		{Role: llm.RoleAssistant, Content: previousResponse},
		{Role: llm.RoleUser, Content: fmt.Sprintf(
			"This response was incomplete. %s Please provide an improved answer based on the available data.\n\nContext:\n%s",
			feedback, r.context)},
	}

	return p.generate(ctx, messages, r, opts, true)
}

func (p *Pipeline) generate(ctx context.Context, messages []llm.Message, r *retrieval, opts Options, refined bool) (*Answer, error) {
	answer := &Answer{
		Analysis: r.analysis,
		Metrics:  r.metrics,
		Refined:  refined,
	}
	if opts.IncludeResults {
		answer.Results = r.results
	}

	if opts.Stream {
		answer.Stream = p.provider.GenerateStream(ctx, messages)
		return answer, nil
	}

	resp, err := p.provider.Generate(ctx, messages)
	if err != nil {
		return nil, err
	}
	answer.Content = resp.Content
	answer.Model = resp.Model
	answer.Usage = resp.Usage
	return answer, nil
}

func userPrompt(question, context string) string {
	return fmt.Sprintf(
		"Based on the following ReportPortal data, please answer this question: %s\n\nContext:\n%s\n\nPlease provide a clear and helpful response based on the data provided.",
		question, context)
}
