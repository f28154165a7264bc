package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Ankit-mirafra/prathambooks-app/engine/vecindex"
)

// --- mocks ---

type mockTranslator struct {
	out   string
	echo  bool
	err   error
	calls int
	last  string
}

func (m *mockTranslator) Translate(_ context.Context, text string) (string, error) {
	m.calls++
	m.last = text
	if m.err != nil {
		return "", m.err
	}
	if m.echo {
		return text, nil
	}
	return m.out, nil
}

type mockEmbedder struct {
	vec   []float32
	err   error
	calls int
	last  string
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.calls++
	m.last = text
	if m.err != nil {
		return nil, m.err
	}
	// Copy: the pipeline normalizes in place.
	return append([]float32(nil), m.vec...), nil
}

type mockIndex struct {
	hits  []vecindex.Hit
	err   error
	n     int
	lastK int
}

func (m *mockIndex) Search(_ context.Context, _ []float32, k int) ([]vecindex.Hit, error) {
	m.lastK = k
	if m.err != nil {
		return nil, m.err
	}
	return m.hits, nil
}

func (m *mockIndex) Len() int { return m.n }

type mockCatalog struct {
	rows    []string
	panicOn map[int]bool
}

func (m *mockCatalog) Get(pos int) (string, error) {
	if m.panicOn[pos] {
		panic("corrupt row")
	}
	if pos < 0 || pos >= len(m.rows) {
		return "", errors.New("position out of range")
	}
	return m.rows[pos], nil
}

func (m *mockCatalog) Len() int { return len(m.rows) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- tests ---

func TestRetrieve_Success(t *testing.T) {
	translator := &mockTranslator{out: "birds in the jungle"}
	embedder := &mockEmbedder{vec: []float32{0.3, 0.4, 0.5}}
	index := &mockIndex{
		n: 3,
		hits: []vecindex.Hit{
			{Pos: 0, Score: 0.91},
			{Pos: 1, Score: 0.52},
		},
	}
	cat := &mockCatalog{rows: []string{
		`{'Title': 'Birds of the Jungle', 'Author': 'A. Kumar', 'Labels': ['birds', 'jungle'], 'Read Level': 2, 'Hyperlink': 'https://storyweaver.org.in/1'}`,
		`{"Title": "The Night Sky", "Author": "R. Rao"}`,
		`{'Title': 'Unreached'}`,
	}}

	svc := New(translator, embedder, index, cat, DefaultOptions(), Metrics{}, testLogger())
	results := svc.Retrieve(context.Background(), "les oiseaux dans la jungle")

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if translator.last != "les oiseaux dans la jungle" {
		t.Errorf("translator received %q", translator.last)
	}
	if embedder.last != "birds in the jungle" {
		t.Errorf("embedder should receive the translated query, got %q", embedder.last)
	}

	first := results[0]
	if first.Title != "Birds of the Jungle" || first.Author != "A. Kumar" {
		t.Errorf("unexpected first result: %+v", first)
	}
	if first.Labels != "birds, jungle" {
		t.Errorf("Labels = %q", first.Labels)
	}
	if first.ReadLevel != "2" {
		t.Errorf("Read Level = %q", first.ReadLevel)
	}
	if first.MatchPercentage != "91.00%" {
		t.Errorf("Match_Percentage = %q", first.MatchPercentage)
	}

	second := results[1]
	if second.Title != "The Night Sky" || second.Labels != "No Labels" {
		t.Errorf("unexpected second result: %+v", second)
	}
	if second.MatchPercentage != "52.00%" {
		t.Errorf("Match_Percentage = %q", second.MatchPercentage)
	}
}

func TestRetrieve_ResultJSONContract(t *testing.T) {
	translator := &mockTranslator{echo: true}
	embedder := &mockEmbedder{vec: []float32{1, 0}}
	index := &mockIndex{n: 1, hits: []vecindex.Hit{{Pos: 0, Score: 0.5}}}
	cat := &mockCatalog{rows: []string{`{'Title': 'Grandma'}`}}

	svc := New(translator, embedder, index, cat, DefaultOptions(), Metrics{}, testLogger())
	results := svc.Retrieve(context.Background(), "grandma")

	raw, err := json.Marshal(results)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"Title"`, `"Author"`, `"Labels"`, `"Read Level"`, `"Hyperlink"`, `"Match_Percentage"`} {
		if !strings.Contains(string(raw), key) {
			t.Errorf("JSON missing key %s: %s", key, raw)
		}
	}
}

func TestRetrieve_Degraded(t *testing.T) {
	svc := New(nil, &mockEmbedder{}, &mockIndex{}, &mockCatalog{}, DefaultOptions(), Metrics{}, testLogger())
	if !svc.Degraded() {
		t.Fatal("service with nil translator should be degraded")
	}
	results := svc.Retrieve(context.Background(), "anything")
	if results == nil || len(results) != 0 {
		t.Fatalf("degraded service should return empty non-nil slice, got %#v", results)
	}
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	translator := &mockTranslator{echo: true}
	embedder := &mockEmbedder{vec: []float32{1, 0}}
	svc := New(translator, embedder, &mockIndex{n: 1}, &mockCatalog{rows: []string{"{}"}}, DefaultOptions(), Metrics{}, testLogger())

	results := svc.Retrieve(context.Background(), "")
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
	if translator.calls != 0 || embedder.calls != 0 {
		t.Errorf("empty query should not invoke capabilities (translate=%d embed=%d)", translator.calls, embedder.calls)
	}
}

func TestRetrieve_WhitespaceQueryIsNotEmpty(t *testing.T) {
	translator := &mockTranslator{echo: true}
	embedder := &mockEmbedder{vec: []float32{1, 0}}
	svc := New(translator, embedder, &mockIndex{n: 0}, &mockCatalog{}, DefaultOptions(), Metrics{}, testLogger())

	svc.Retrieve(context.Background(), "   ")
	if embedder.calls != 1 {
		t.Errorf("whitespace query should run the pipeline, embed calls = %d", embedder.calls)
	}
}

func TestRetrieve_TranslateFailureFallsBack(t *testing.T) {
	translator := &mockTranslator{err: errors.New("upstream down")}
	embedder := &mockEmbedder{vec: []float32{1, 0}}
	index := &mockIndex{n: 1, hits: []vecindex.Hit{{Pos: 0, Score: 0.8}}}
	cat := &mockCatalog{rows: []string{`{'Title': 'Fallback'}`}}

	svc := New(translator, embedder, index, cat, DefaultOptions(), Metrics{}, testLogger())
	results := svc.Retrieve(context.Background(), "पक्षी")

	if embedder.last != "पक्षी" {
		t.Errorf("embedder should receive the original query on translate failure, got %q", embedder.last)
	}
	if len(results) != 1 || results[0].Title != "Fallback" {
		t.Fatalf("pipeline should continue after translate failure, got %+v", results)
	}
}

func TestRetrieve_EmptyTranslationFallsBack(t *testing.T) {
	translator := &mockTranslator{out: ""}
	embedder := &mockEmbedder{vec: []float32{1, 0}}
	svc := New(translator, embedder, &mockIndex{n: 0}, &mockCatalog{}, DefaultOptions(), Metrics{}, testLogger())

	svc.Retrieve(context.Background(), "birds")
	if embedder.last != "birds" {
		t.Errorf("empty translation should fall back to the original query, got %q", embedder.last)
	}
}

func TestRetrieve_EmbedFailureReturnsEmpty(t *testing.T) {
	svc := New(
		&mockTranslator{echo: true},
		&mockEmbedder{err: errors.New("model gone")},
		&mockIndex{n: 1, hits: []vecindex.Hit{{Pos: 0, Score: 1}}},
		&mockCatalog{rows: []string{"{}"}},
		DefaultOptions(), Metrics{}, testLogger(),
	)
	results := svc.Retrieve(context.Background(), "birds")
	if results == nil || len(results) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", results)
	}
}

func TestRetrieve_ZeroVectorReturnsEmpty(t *testing.T) {
	svc := New(
		&mockTranslator{echo: true},
		&mockEmbedder{vec: []float32{0, 0, 0}},
		&mockIndex{n: 1, hits: []vecindex.Hit{{Pos: 0, Score: 1}}},
		&mockCatalog{rows: []string{"{}"}},
		DefaultOptions(), Metrics{}, testLogger(),
	)
	results := svc.Retrieve(context.Background(), "birds")
	if len(results) != 0 {
		t.Fatalf("zero embedding should yield no results, got %d", len(results))
	}
}

func TestRetrieve_SearchFailureReturnsEmpty(t *testing.T) {
	svc := New(
		&mockTranslator{echo: true},
		&mockEmbedder{vec: []float32{1, 0}},
		&mockIndex{n: 1, err: errors.New("index offline")},
		&mockCatalog{rows: []string{"{}"}},
		DefaultOptions(), Metrics{}, testLogger(),
	)
	results := svc.Retrieve(context.Background(), "birds")
	if results == nil || len(results) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", results)
	}
}

func TestRetrieve_SkipsBadCandidates(t *testing.T) {
	index := &mockIndex{
		n: 3,
		hits: []vecindex.Hit{
			{Pos: 99, Score: 0.9},  // out of range
			{Pos: 1, Score: 0.8},   // unparseable payload
			{Pos: 2, Score: 0.7},   // good
		},
	}
	cat := &mockCatalog{rows: []string{
		`{'Title': 'Zero'}`,
		`plain text, not a payload`,
		`{'Title': 'Survivor'}`,
	}}

	skipped, observed := 0, -1
	met := Metrics{
		CandidateSkipped: func() { skipped++ },
		Results:          func(n int) { observed = n },
	}
	svc := New(&mockTranslator{echo: true}, &mockEmbedder{vec: []float32{1, 0}}, index, cat, DefaultOptions(), met, testLogger())

	results := svc.Retrieve(context.Background(), "birds")
	if len(results) != 1 || results[0].Title != "Survivor" {
		t.Fatalf("expected only the parseable candidate, got %+v", results)
	}
	if skipped != 2 {
		t.Errorf("expected 2 skipped candidates, got %d", skipped)
	}
	if observed != 1 {
		t.Errorf("expected 1 observed result, got %d", observed)
	}
}

func TestRetrieve_RecoversFromCandidatePanic(t *testing.T) {
	index := &mockIndex{
		n: 2,
		hits: []vecindex.Hit{
			{Pos: 0, Score: 0.9},
			{Pos: 1, Score: 0.8},
		},
	}
	cat := &mockCatalog{
		rows:    []string{`{'Title': 'Poison'}`, `{'Title': 'Healthy'}`},
		panicOn: map[int]bool{0: true},
	}

	svc := New(&mockTranslator{echo: true}, &mockEmbedder{vec: []float32{1, 0}}, index, cat, DefaultOptions(), Metrics{}, testLogger())
	results := svc.Retrieve(context.Background(), "birds")

	if len(results) != 1 || results[0].Title != "Healthy" {
		t.Fatalf("panic should drop only its candidate, got %+v", results)
	}
}

func TestRetrieve_CapsKAtIndexSize(t *testing.T) {
	index := &mockIndex{n: 3}
	svc := New(&mockTranslator{echo: true}, &mockEmbedder{vec: []float32{1, 0}}, index, &mockCatalog{}, Options{TopN: 10}, Metrics{}, testLogger())

	svc.Retrieve(context.Background(), "birds")
	if index.lastK != 3 {
		t.Errorf("k should cap at index size 3, got %d", index.lastK)
	}
}

func TestRetrieve_RankOrderPreserved(t *testing.T) {
	index := &mockIndex{
		n: 3,
		hits: []vecindex.Hit{
			{Pos: 2, Score: 0.9},
			{Pos: 0, Score: 0.6},
			{Pos: 1, Score: 0.3},
		},
	}
	cat := &mockCatalog{rows: []string{`{'Title': 'A'}`, `{'Title': 'B'}`, `{'Title': 'C'}`}}
	svc := New(&mockTranslator{echo: true}, &mockEmbedder{vec: []float32{1, 0}}, index, cat, DefaultOptions(), Metrics{}, testLogger())

	results := svc.Retrieve(context.Background(), "birds")
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	want := []string{"C", "A", "B"}
	for i, w := range want {
		if results[i].Title != w {
			t.Errorf("result %d = %q, want %q", i, results[i].Title, w)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].MatchPercentage > results[i-1].MatchPercentage {
			t.Errorf("percentages out of order: %q then %q", results[i-1].MatchPercentage, results[i].MatchPercentage)
		}
	}
}

func TestRetrieve_CountsQueries(t *testing.T) {
	queries := 0
	met := Metrics{Queries: func() { queries++ }}
	svc := New(&mockTranslator{echo: true}, &mockEmbedder{vec: []float32{1, 0}}, &mockIndex{n: 0}, &mockCatalog{}, DefaultOptions(), met, testLogger())

	svc.Retrieve(context.Background(), "birds")
	svc.Retrieve(context.Background(), "")
	if queries != 1 {
		t.Errorf("expected 1 counted query, got %d", queries)
	}
}

func TestFormatPercentage(t *testing.T) {
	cases := []struct {
		score float32
		want  string
	}{
		{0.85, "85.00%"},
		{0.123456, "12.35%"},
		{1.0, "100.00%"},
		{1.2, "100.00%"},
		{-0.5, "0.00%"},
		{0, "0.00%"},
	}
	for _, c := range cases {
		if got := formatPercentage(c.score); got != c.want {
			t.Errorf("formatPercentage(%f) = %q, want %q", c.score, got, c.want)
		}
	}
}
