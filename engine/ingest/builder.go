package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/Ankit-mirafra/prathambooks-app/engine/vecindex"
	"github.com/Ankit-mirafra/prathambooks-app/pkg/fn"
)

// DefaultBatchSize is the number of payloads embedded per request during a
// full build.
const DefaultBatchSize = 64

// Catalog is the read side of the prompts CSV.
type Catalog interface {
	Get(pos int) (string, error)
	Len() int
}

// BuildOpts configures a full index build.
type BuildOpts struct {
	BatchSize int
	Workers   int
	Retry     fn.RetryOpts
}

// DefaultBuildOpts returns sensible defaults. Workers defaults to half the
// CPUs, minimum one.
func DefaultBuildOpts() BuildOpts {
	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}
	return BuildOpts{
		BatchSize: DefaultBatchSize,
		Workers:   workers,
		Retry:     fn.DefaultRetry,
	}
}

// BuildIndex embeds every catalog payload and stores the vectors at their
// row positions. Batches run concurrently on a worker pool; the first batch
// error fails the build. Returns the number of rows indexed.
func BuildIndex(ctx context.Context, cat Catalog, e Embedder, sink VectorSink, opts BuildOpts, log *slog.Logger) (int, error) {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultBuildOpts()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = def.Retry
	}

	n := cat.Len()
	if n == 0 {
		return 0, nil
	}
	payloads := make([]string, n)
	for i := range payloads {
		p, err := cat.Get(i)
		if err != nil {
			return 0, fmt.Errorf("ingest: read catalog row %d: %w", i, err)
		}
		payloads[i] = p
	}

	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return 0, fmt.Errorf("ingest: worker pool: %w", err)
	}
	defer pool.Release()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for bi, batch := range fn.Chunk(payloads, opts.BatchSize) {
		startPos := bi * opts.BatchSize
		batch := batch

		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if err := buildBatch(ctx, e, sink, opts.Retry, startPos, batch); err != nil {
				fail(err)
				return
			}
			log.Debug("ingest: batch stored", "start", startPos, "size", len(batch))
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("ingest: submit batch: %w", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return 0, firstErr
	}
	log.Info("ingest: build complete", "rows", n)
	return n, nil
}

func buildBatch(ctx context.Context, e Embedder, sink VectorSink, retry fn.RetryOpts, startPos int, payloads []string) error {
	res := fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[[][]float32] {
		return fn.FromPair(e.EmbedBatch(ctx, payloads))
	})
	vecs, err := res.Unwrap()
	if err != nil {
		return fmt.Errorf("ingest: embed batch at %d: %w", startPos, err)
	}
	if len(vecs) != len(payloads) {
		return fmt.Errorf("ingest: embed batch at %d: got %d vectors for %d payloads", startPos, len(vecs), len(payloads))
	}
	for i, vec := range vecs {
		if err := vecindex.Normalize(vec); err != nil {
			return fmt.Errorf("ingest: position %d: %w", startPos+i, err)
		}
	}
	if err := sink.InsertBatch(ctx, startPos, vecs); err != nil {
		return fmt.Errorf("ingest: store batch at %d: %w", startPos, err)
	}
	return nil
}
