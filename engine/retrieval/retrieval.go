// Package retrieval orchestrates the book discovery pipeline. It accepts a
// reader's query in any language, translates it to English, embeds it,
// searches the vector index, and materializes the top matches as catalog
// records with a match percentage.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Ankit-mirafra/prathambooks-app/engine/catalog"
	"github.com/Ankit-mirafra/prathambooks-app/engine/vecindex"
	"github.com/Ankit-mirafra/prathambooks-app/pkg/fn"
	"github.com/Ankit-mirafra/prathambooks-app/pkg/resilience"
)

// Translator converts a query to English.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Embedder produces the query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher performs k-NN search over the book index.
type Searcher interface {
	Search(ctx context.Context, vec []float32, k int) ([]vecindex.Hit, error)
	Len() int
}

// Catalog resolves index positions to raw payload strings.
type Catalog interface {
	Get(pos int) (string, error)
	Len() int
}

// Options configures the pipeline behaviour.
type Options struct {
	TopN             int
	TranslateTimeout time.Duration
	EmbedTimeout     time.Duration
	SearchTimeout    time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopN:             5,
		TranslateTimeout: 3 * time.Second,
		EmbedTimeout:     10 * time.Second,
		SearchTimeout:    5 * time.Second,
	}
}

// Metrics carries optional counters the pipeline reports into. Nil fields
// are skipped.
type Metrics struct {
	Queries          func()
	TranslateFailed  func()
	CandidateSkipped func()
	Results          func(n int)
	StageSeconds     func(stage string, seconds float64)
}

func (m Metrics) count(f func()) {
	if f != nil {
		f()
	}
}

func (m Metrics) results(n int) {
	if m.Results != nil {
		m.Results(n)
	}
}

func (m Metrics) observe(stage string, start time.Time) {
	if m.StageSeconds != nil {
		m.StageSeconds(stage, time.Since(start).Seconds())
	}
}

// Result is one ranked book match.
type Result struct {
	catalog.Record
	MatchPercentage string `json:"Match_Percentage"`
}

// Service runs the retrieval pipeline. Any capability may be nil; the
// service then runs degraded and answers every query with an empty list.
type Service struct {
	translate Translator
	embed     Embedder
	index     Searcher
	catalog   Catalog
	breaker   *resilience.Breaker
	opts      Options
	met       Metrics
	logger    *slog.Logger
}

// New creates a retrieval Service.
func New(translate Translator, embed Embedder, index Searcher, cat Catalog, opts Options, met Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.TopN <= 0 {
		opts.TopN = def.TopN
	}
	if opts.TranslateTimeout <= 0 {
		opts.TranslateTimeout = def.TranslateTimeout
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = def.EmbedTimeout
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = def.SearchTimeout
	}
	return &Service{
		translate: translate,
		embed:     embed,
		index:     index,
		catalog:   cat,
		breaker:   resilience.NewBreaker(resilience.DefaultBreakerOpts),
		opts:      opts,
		met:       met,
		logger:    logger,
	}
}

// Degraded reports whether any pipeline capability is missing.
func (s *Service) Degraded() bool {
	return s.translate == nil || s.embed == nil || s.index == nil || s.catalog == nil
}

// Retrieve runs the pipeline for one query. It never fails: every stage
// error degrades to an empty list, and a bad candidate is dropped rather
// than poisoning the response.
func (s *Service) Retrieve(ctx context.Context, query string) []Result {
	if s.Degraded() {
		s.logger.Error("retrieval: capabilities missing, cannot serve query")
		return []Result{}
	}
	if query == "" {
		return []Result{}
	}
	s.met.count(s.met.Queries)

	translated := s.translateQuery(ctx, query)

	vec, err := s.embedQuery(ctx, translated)
	if err != nil {
		s.logger.Error("retrieval: embed query", "err", err)
		s.met.results(0)
		return []Result{}
	}

	hits, err := s.searchIndex(ctx, vec)
	if err != nil {
		s.logger.Error("retrieval: search", "err", err)
		s.met.results(0)
		return []Result{}
	}

	// Hits arrive ranked best-first; keep that order.
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if r, ok := s.materialize(h); ok {
			results = append(results, r)
		}
	}
	s.met.results(len(results))
	s.logger.Info("retrieval done", "query_len", len(query), "results", len(results))
	return results
}

// translateQuery returns the English form of query, or query unchanged when
// translation is unavailable.
func (s *Service) translateQuery(ctx context.Context, query string) string {
	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, s.opts.TranslateTimeout)
	defer cancel()

	res := resilience.CallResult(s.breaker, tctx, func(ctx context.Context) fn.Result[string] {
		return fn.FromPair(s.translate.Translate(ctx, query))
	})
	s.met.observe("translate", start)

	translated, err := res.Unwrap()
	if err != nil {
		s.met.count(s.met.TranslateFailed)
		s.logger.Warn("retrieval: translation failed, using original query", "err", err)
		return query
	}
	if translated == "" {
		return query
	}
	if !strings.EqualFold(translated, query) {
		s.logger.Info("retrieval: query translated", "from_len", len(query), "to_len", len(translated))
	}
	return translated
}

func (s *Service) embedQuery(ctx context.Context, query string) ([]float32, error) {
	start := time.Now()
	ectx, cancel := context.WithTimeout(ctx, s.opts.EmbedTimeout)
	defer cancel()

	vec, err := s.embed.Embed(ectx, query)
	s.met.observe("embed", start)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed: %w", err)
	}
	if err := vecindex.Normalize(vec); err != nil {
		return nil, fmt.Errorf("retrieval: normalize: %w", err)
	}
	return vec, nil
}

func (s *Service) searchIndex(ctx context.Context, vec []float32) ([]vecindex.Hit, error) {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()

	k := s.opts.TopN
	if n := s.index.Len(); n > 0 && k > n {
		k = n
	}
	hits, err := s.index.Search(sctx, vec, k)
	s.met.observe("search", start)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search: %w", err)
	}
	return hits, nil
}

// materialize resolves one hit into a Result. A panic while handling a
// candidate drops that candidate only.
func (s *Service) materialize(h vecindex.Hit) (res Result, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.met.count(s.met.CandidateSkipped)
			s.logger.Error("retrieval: panic handling candidate", "pos", h.Pos, "panic", r)
			ok = false
		}
	}()

	raw, err := s.catalog.Get(h.Pos)
	if err != nil {
		s.met.count(s.met.CandidateSkipped)
		s.logger.Warn("retrieval: candidate unavailable", "pos", h.Pos, "err", err)
		return Result{}, false
	}

	fields, err := catalog.ParsePayload(raw)
	if err != nil {
		s.met.count(s.met.CandidateSkipped)
		s.logger.Warn("retrieval: skipping unparseable payload", "pos", h.Pos, "err", err)
		return Result{}, false
	}

	return Result{
		Record:          fields.Record(),
		MatchPercentage: formatPercentage(h.Score),
	}, true
}

// formatPercentage converts a cosine score to a clamped 0-100 percentage
// with two decimals.
func formatPercentage(score float32) string {
	p := float64(score) * 100
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return fmt.Sprintf("%.2f%%", p)
}
