// Package ingest feeds new books into the catalog and the vector index. It
// provides the pipeline stages shared by the indexer's build and watch
// modes: render the catalog payload, embed it, and store row and vector at
// the same position.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/Ankit-mirafra/prathambooks-app/engine/vecindex"
	"github.com/Ankit-mirafra/prathambooks-app/pkg/fn"
	"github.com/Ankit-mirafra/prathambooks-app/pkg/natsutil"
)

const (
	// BooksSubject carries new book records.
	BooksSubject = "catalog.books"
	// DLQSubject receives books the pipeline could not process.
	DLQSubject = "catalog.books.dlq"
	// ConsumerQueue is the queue group shared by indexer instances.
	ConsumerQueue = "indexers"
)

// Embedder produces vectors for payload strings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CatalogAppender appends payload rows to the prompts CSV.
type CatalogAppender interface {
	Append(payload string) (int, error)
	Len() int
}

// VectorSink stores vectors at catalog positions.
type VectorSink interface {
	Insert(ctx context.Context, pos int, vec []float32) error
	InsertBatch(ctx context.Context, startPos int, vecs [][]float32) error
}

// Deps holds the external dependencies for the ingest pipeline.
type Deps struct {
	Embedder Embedder
	Catalog  CatalogAppender
	Vectors  VectorSink
	// Retry governs embed retries; zero value means fn.DefaultRetry.
	Retry fn.RetryOpts
	// DeduplicateF reports whether a payload was already ingested.
	DeduplicateF func(ctx context.Context, payload string) (bool, error)
	Logger       *slog.Logger
}

func (d Deps) retryOpts() fn.RetryOpts {
	if d.Retry.MaxAttempts <= 0 {
		return fn.DefaultRetry
	}
	return d.Retry
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// --- pipeline stages ---

// Validate rejects books without a title.
var Validate fn.Stage[Book, Book] = func(_ context.Context, b Book) fn.Result[Book] {
	if strings.TrimSpace(b.Title) == "" {
		return fn.Errf[Book]("ingest: book has no title")
	}
	return fn.Ok(b)
}

// BuildPayload renders the book as a catalog payload string.
var BuildPayload fn.Stage[Book, string] = func(_ context.Context, b Book) fn.Result[string] {
	return fn.FromPair(b.Payload())
}

// EmbeddedBook pairs a payload with its normalized vector.
type EmbeddedBook struct {
	Payload string
	Vector  []float32
}

// NewEmbed creates a stage that embeds one payload and normalizes the
// vector for cosine search.
func NewEmbed(e Embedder) fn.Stage[string, EmbeddedBook] {
	return func(ctx context.Context, payload string) fn.Result[EmbeddedBook] {
		vec, err := e.Embed(ctx, payload)
		if err != nil {
			return fn.Err[EmbeddedBook](fmt.Errorf("ingest: embed: %w", err))
		}
		if err := vecindex.Normalize(vec); err != nil {
			return fn.Err[EmbeddedBook](fmt.Errorf("ingest: %w", err))
		}
		return fn.Ok(EmbeddedBook{Payload: payload, Vector: vec})
	}
}

// NewAppend creates a stage that stores the vector and appends the catalog
// row. The vector goes in first: the position comes from the catalog
// length, so a replayed message overwrites the same point instead of
// leaving a stray one.
func NewAppend(cat CatalogAppender, vecs VectorSink) fn.Stage[EmbeddedBook, int] {
	return func(ctx context.Context, book EmbeddedBook) fn.Result[int] {
		pos := cat.Len()
		if err := vecs.Insert(ctx, pos, book.Vector); err != nil {
			return fn.Err[int](fmt.Errorf("ingest: store vector at %d: %w", pos, err))
		}
		got, err := cat.Append(book.Payload)
		if err != nil {
			return fn.Err[int](fmt.Errorf("ingest: append catalog row: %w", err))
		}
		if got != pos {
			return fn.Errf[int]("ingest: catalog row landed at %d, vector at %d", got, pos)
		}
		return fn.Ok(pos)
	}
}

// NewPipeline composes validate → payload → embed → append.
func NewPipeline(deps Deps) fn.Stage[Book, int] {
	embed := fn.RetryStage(deps.retryOpts(), NewEmbed(deps.Embedder))
	front := fn.Then(Validate, fn.TracedStage("ingest.payload", BuildPayload))
	back := fn.Then(
		fn.TracedStage("ingest.embed", embed),
		fn.TracedStage("ingest.append", NewAppend(deps.Catalog, deps.Vectors)),
	)
	return fn.Then(front, back)
}

// dlqMessage is published when a book cannot be processed.
type dlqMessage struct {
	Book  Book   `json:"book"`
	Error string `json:"error"`
}

// StartConsumer subscribes to BooksSubject and feeds each record through
// the pipeline. Indexer instances share the queue group, so each book is
// processed once. Books that fail the pipeline go to the DLQ.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.logger()

	return natsutil.QueueSubscribe(nc, BooksSubject, ConsumerQueue, func(ctx context.Context, book Book) {
		handle(ctx, nc, pipeline, deps, log, book)
	})
}

func handle(ctx context.Context, nc *nats.Conn, pipeline fn.Stage[Book, int], deps Deps, log *slog.Logger, book Book) {
	if deps.DeduplicateF != nil {
		if payload, err := book.Payload(); err == nil {
			exists, err := deps.DeduplicateF(ctx, payload)
			if err != nil {
				log.Warn("ingest: dedup check failed", "err", err)
			} else if exists {
				log.Info("ingest: skipping duplicate", "title", book.Title)
				return
			}
		}
	}

	result := pipeline(ctx, book)
	if result.IsErr() {
		_, pipeErr := result.Unwrap()
		log.Error("ingest: pipeline failed", "title", book.Title, "err", pipeErr)
		dlq := dlqMessage{Book: book, Error: pipeErr.Error()}
		if err := natsutil.Publish(ctx, nc, DLQSubject, dlq); err != nil {
			log.Error("ingest: DLQ publish failed", "err", err)
		}
		return
	}

	pos, _ := result.Unwrap()
	log.Info("ingest: book indexed", "title", book.Title, "pos", pos)
}
