// Command indexer builds and maintains the book vector index. -build embeds
// every catalog row into a fresh index, -watch consumes books published on
// NATS and appends them, -verify checks that the index and the catalog agree.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/Ankit-mirafra/prathambooks-app/engine/catalog"
	"github.com/Ankit-mirafra/prathambooks-app/engine/ingest"
	"github.com/Ankit-mirafra/prathambooks-app/engine/vecindex"
	"github.com/Ankit-mirafra/prathambooks-app/pkg/embed"
	"github.com/Ankit-mirafra/prathambooks-app/pkg/embedcache"
	"github.com/Ankit-mirafra/prathambooks-app/pkg/metrics"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

var met = metrics.New()

// Indexer metrics
var (
	mRowsIndexed = met.Counter("prathambooks_indexer_rows_indexed_total", "Rows embedded into the index")
	mBooksTotal  = met.Counter("prathambooks_indexer_books_total", "Books appended from the stream")
	mBuildErrors = met.Counter("prathambooks_indexer_build_errors_total", "Failed index builds")
	mIndexSize   = met.Gauge("prathambooks_indexer_index_size", "Vectors in the index")
	mBuildDur    = met.Histogram("prathambooks_indexer_build_duration_seconds", "Full build time", nil)
)

type config struct {
	csvPath    string
	indexPath  string
	backend    string
	qdrantAddr string
	collection string
	model      string
	batchSize  int
	workers    int
	dim        int
	fresh      bool
	natsURL    string
}

func main() {
	// Optional .env for local development. Loaded before flag defaults are
	// read so OPENAI_TOKEN can come from the file.
	_ = godotenv.Load()

	var (
		csvPath      = flag.String("csv", "prompts.csv", "book catalog CSV")
		indexPath    = flag.String("index", "index.db", "vector artifact path (sqlite backend)")
		backend      = flag.String("backend", "sqlite", "vector backend: sqlite or qdrant")
		qdrantAddr   = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection   = flag.String("collection", "books", "Qdrant collection name")
		embedBackend = flag.String("embedder", "ollama", "embedding backend: ollama or openai")
		ollamaURL    = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		model        = flag.String("model", "nomic-embed-text", "embedding model")
		openaiURL    = flag.String("openai-url", "http://localhost:8000/v1", "OpenAI-compatible base URL")
		openaiToken  = flag.String("openai-token", os.Getenv("OPENAI_TOKEN"), "OpenAI API token")
		cacheDir     = flag.String("cache", ".embed-cache", "embedding cache directory (empty disables)")
		natsURL      = flag.String("nats", nats.DefaultURL, "NATS server URL (watch mode)")
		batchSize    = flag.Int("batch", ingest.DefaultBatchSize, "embed batch size")
		workers      = flag.Int("workers", 0, "concurrent embed batches (0 = half the CPUs)")
		dim          = flag.Int("dim", 0, "vector dimensions (0 = probe the embedder)")
		metricsPort  = flag.Int("metrics-port", 9091, "Prometheus metrics port")
		fresh        = flag.Bool("fresh", false, "drop the Qdrant collection before building")
		build        = flag.Bool("build", false, "embed the whole catalog into a fresh index")
		verify       = flag.Bool("verify", false, "check that index and catalog agree")
		watch        = flag.Bool("watch", false, "consume published books and append to the index")
	)
	flag.Parse()

	log := slog.Default()
	if !*build && !*verify && !*watch {
		log.Error("nothing to do: pass -build, -verify, or -watch")
		os.Exit(2)
	}

	met.ServeAsync(*metricsPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config{
		csvPath:    *csvPath,
		indexPath:  *indexPath,
		backend:    *backend,
		qdrantAddr: *qdrantAddr,
		collection: *collection,
		model:      *model,
		batchSize:  *batchSize,
		workers:    *workers,
		dim:        *dim,
		fresh:      *fresh,
		natsURL:    *natsURL,
	}

	// Only modes that produce vectors need an embedder.
	var embedder ingest.Embedder
	if *build || *watch {
		upstream, err := buildEmbedder(*embedBackend, *ollamaURL, *openaiURL, *openaiToken, *model)
		if err != nil {
			log.Error("embedder setup failed", "error", err)
			os.Exit(1)
		}
		embedder = upstream
		if *cacheDir != "" {
			cache, err := embedcache.Open(*cacheDir, *model, log)
			if err != nil {
				log.Warn("embed cache unavailable, continuing without", "error", err)
			} else {
				defer cache.Close()
				embedder = embedcache.Front(upstream, cache, log)
			}
		}
		if cfg.dim == 0 {
			d, err := probeDim(ctx, embedder)
			if err != nil {
				log.Error("embedder probe failed", "error", err)
				os.Exit(1)
			}
			cfg.dim = d
		}
		log.Info("using embedder", "backend", *embedBackend, "model", *model, "dim", cfg.dim)
	}

	if *build {
		if err := runBuild(ctx, cfg, embedder, log); err != nil {
			mBuildErrors.Inc()
			log.Error("build failed", "error", err)
			os.Exit(1)
		}
	}
	if *verify {
		if err := runVerify(ctx, cfg, log); err != nil {
			log.Error("verify failed", "error", err)
			os.Exit(1)
		}
	}
	if *watch {
		if err := runWatch(ctx, cfg, embedder, log); err != nil {
			log.Error("watch failed", "error", err)
			os.Exit(1)
		}
	}
}

func buildEmbedder(backend, ollamaURL, openaiURL, token, model string) (embed.Embedder, error) {
	if backend == "openai" {
		return embed.NewOpenAI(openaiURL, token, model)
	}
	return embed.NewOllama(ollamaURL, model), nil
}

// probeDim learns the vector size by embedding a short probe string.
func probeDim(ctx context.Context, e ingest.Embedder) (int, error) {
	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	vec, err := e.Embed(pctx, "dimension probe")
	if err != nil {
		return 0, fmt.Errorf("probe embed: %w", err)
	}
	if len(vec) == 0 {
		return 0, errors.New("probe embed returned an empty vector")
	}
	return len(vec), nil
}

func runBuild(ctx context.Context, cfg config, embedder ingest.Embedder, log *slog.Logger) error {
	cat, err := catalog.Load(cfg.csvPath)
	if err != nil {
		return err
	}
	log.Info("building index", "rows", cat.Len(), "backend", cfg.backend)
	start := time.Now()

	var sink ingest.VectorSink
	finish := func(context.Context) error { return nil }

	switch cfg.backend {
	case "qdrant":
		q, err := vecindex.NewQdrant(cfg.qdrantAddr, cfg.collection)
		if err != nil {
			return err
		}
		defer q.Close()
		if cfg.fresh {
			if err := q.DeleteCollection(ctx); err != nil {
				log.Warn("drop collection failed", "error", err)
			}
		}
		if err := q.EnsureCollection(ctx, cfg.dim); err != nil {
			return err
		}
		sink = qdrantSink{q}
	default:
		w, err := vecindex.NewWriter(cfg.indexPath, cfg.dim, cfg.model)
		if err != nil {
			return err
		}
		defer w.Close()
		sink = w
		finish = w.Finalize
	}

	n, err := ingest.BuildIndex(ctx, cat, embedder, sink, ingest.BuildOpts{
		BatchSize: cfg.batchSize,
		Workers:   cfg.workers,
	}, log)
	if err != nil {
		return err
	}
	if err := finish(ctx); err != nil {
		return err
	}

	mRowsIndexed.Add(int64(n))
	mIndexSize.Set(int64(n))
	mBuildDur.Since(start)
	log.Info("index built", "rows", n, "took", time.Since(start))
	return nil
}

func runVerify(ctx context.Context, cfg config, log *slog.Logger) error {
	cat, err := catalog.Load(cfg.csvPath)
	if err != nil {
		return err
	}

	switch cfg.backend {
	case "qdrant":
		q, err := vecindex.NewQdrant(cfg.qdrantAddr, cfg.collection)
		if err != nil {
			return err
		}
		defer q.Close()
		if err := q.Open(ctx); err != nil {
			return err
		}
		if q.Len() != cat.Len() {
			return fmt.Errorf("collection %s holds %d vectors but the catalog has %d rows", cfg.collection, q.Len(), cat.Len())
		}
		mIndexSize.Set(int64(q.Len()))
		log.Info("index verified", "backend", "qdrant", "vectors", q.Len(), "dim", q.Dim())
	default:
		flat, meta, err := vecindex.OpenFlat(cfg.indexPath)
		if err != nil {
			return err
		}
		if flat.Len() != cat.Len() {
			return fmt.Errorf("artifact holds %d vectors but the catalog has %d rows", flat.Len(), cat.Len())
		}
		if meta.Model != cfg.model {
			return fmt.Errorf("artifact built with model %q, want %q", meta.Model, cfg.model)
		}
		mIndexSize.Set(int64(flat.Len()))
		log.Info("index verified", "backend", "sqlite", "vectors", flat.Len(), "dim", meta.Dim, "built_at", meta.BuiltAt)
	}
	return nil
}

func runWatch(ctx context.Context, cfg config, embedder ingest.Embedder, log *slog.Logger) error {
	nc, err := nats.Connect(cfg.natsURL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	appender, err := catalog.OpenAppender(cfg.csvPath)
	if err != nil {
		return err
	}
	defer appender.Close()

	sink, closeSink, err := openSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	// In-process dedup: a payload seen twice in one run is skipped.
	var mu sync.Mutex
	seen := make(map[string]bool)

	deps := ingest.Deps{
		Embedder: embedder,
		Catalog:  countingCatalog{appender},
		Vectors:  sink,
		DeduplicateF: func(_ context.Context, payload string) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			if seen[payload] {
				return true, nil
			}
			seen[payload] = true
			return false, nil
		},
		Logger: log,
	}

	sub, err := ingest.StartConsumer(nc, deps)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	mIndexSize.Set(int64(appender.Len()))
	log.Info("watching for books", "subject", ingest.BooksSubject, "queue", ingest.ConsumerQueue, "rows", appender.Len())

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// openSink returns the watch-mode vector sink and its closer.
func openSink(ctx context.Context, cfg config) (ingest.VectorSink, func(), error) {
	if cfg.backend == "qdrant" {
		q, err := vecindex.NewQdrant(cfg.qdrantAddr, cfg.collection)
		if err != nil {
			return nil, nil, err
		}
		if err := q.EnsureCollection(ctx, cfg.dim); err != nil {
			q.Close()
			return nil, nil, err
		}
		return qdrantSink{q}, func() { q.Close() }, nil
	}

	w, err := vecindex.OpenWriter(cfg.indexPath, cfg.dim, cfg.model)
	if errors.Is(err, fs.ErrNotExist) {
		w, err = vecindex.NewWriter(cfg.indexPath, cfg.dim, cfg.model)
		if err == nil {
			err = w.Finalize(ctx)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return finalizingSink{w}, func() { w.Close() }, nil
}

// qdrantSink adapts the Qdrant store to the ingest sink interface.
type qdrantSink struct{ q *vecindex.Qdrant }

func (s qdrantSink) Insert(ctx context.Context, pos int, vec []float32) error {
	return s.q.Upsert(ctx, pos, [][]float32{vec})
}

func (s qdrantSink) InsertBatch(ctx context.Context, startPos int, vecs [][]float32) error {
	return s.q.Upsert(ctx, startPos, vecs)
}

// finalizingSink re-records artifact metadata after every write so the
// artifact stays loadable between appends.
type finalizingSink struct{ w *vecindex.Writer }

func (s finalizingSink) Insert(ctx context.Context, pos int, vec []float32) error {
	if err := s.w.Insert(ctx, pos, vec); err != nil {
		return err
	}
	return s.w.Finalize(ctx)
}

func (s finalizingSink) InsertBatch(ctx context.Context, startPos int, vecs [][]float32) error {
	if err := s.w.InsertBatch(ctx, startPos, vecs); err != nil {
		return err
	}
	return s.w.Finalize(ctx)
}

// countingCatalog counts appended books for the metrics endpoint.
type countingCatalog struct{ *catalog.Appender }

func (c countingCatalog) Append(payload string) (int, error) {
	pos, err := c.Appender.Append(payload)
	if err == nil {
		mBooksTotal.Inc()
		mIndexSize.Set(int64(pos + 1))
	}
	return pos, err
}
