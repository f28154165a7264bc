package vecindex

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Qdrant is an Index backed by a remote Qdrant collection. Point IDs are
// numeric catalog positions.
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dim         int
	count       int
}

var _ Index = (*Qdrant)(nil)

// NewQdrant connects to Qdrant at the given gRPC address. The connection is
// lazy; call Open (read path) or EnsureCollection (write path) to touch the
// server.
func NewQdrant(addr, collection string) (*Qdrant, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vecindex: dial qdrant %s: %w", addr, err)
	}
	return &Qdrant{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Open verifies the collection exists and caches its vector dimension and
// point count. Len and Dim report the values observed here.
func (q *Qdrant) Open(ctx context.Context) error {
	info, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: q.collection})
	if err != nil {
		return fmt.Errorf("vecindex: collection info %s: %w", q.collection, err)
	}
	q.dim = int(info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())

	n, err := q.Count(ctx)
	if err != nil {
		return err
	}
	q.count = n
	return nil
}

// EnsureCollection creates the collection (cosine distance) if it doesn't exist.
func (q *Qdrant) EnsureCollection(ctx context.Context, dim int) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("vecindex: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			q.dim = dim
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vecindex: create collection %s: %w", q.collection, err)
	}
	q.dim = dim
	return nil
}

// DeleteCollection drops the collection. Used for fresh rebuilds.
func (q *Qdrant) DeleteCollection(ctx context.Context) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: q.collection,
	})
	if err != nil {
		return fmt.Errorf("vecindex: delete collection %s: %w", q.collection, err)
	}
	q.count = 0
	return nil
}

// Upsert stores vectors at consecutive positions starting at startPos.
func (q *Qdrant) Upsert(ctx context.Context, startPos int, vecs [][]float32) error {
	if len(vecs) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(vecs))
	for i, vec := range vecs {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Num{Num: uint64(startPos + i)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vec},
				},
			},
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vecindex: upsert %d points: %w", len(vecs), err)
	}
	if end := startPos + len(vecs); end > q.count {
		q.count = end
	}
	return nil
}

// Count returns the live point count from the server.
func (q *Qdrant) Count(ctx context.Context) (int, error) {
	resp, err := q.points.Count(ctx, &pb.CountPoints{CollectionName: q.collection})
	if err != nil {
		return 0, fmt.Errorf("vecindex: count points: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Search performs k-NN cosine search. Qdrant returns results best-first and
// caps k at the collection size.
func (q *Qdrant) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if q.dim != 0 && len(vec) != q.dim {
		return nil, fmt.Errorf("vecindex: search: %w: got %d, want %d", ErrDimMismatch, len(vec), q.dim)
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vec,
		Limit:          uint64(k),
	})
	if err != nil {
		return nil, fmt.Errorf("vecindex: qdrant search: %w", err)
	}

	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = Hit{Pos: int(r.GetId().GetNum()), Score: r.GetScore()}
	}
	return hits, nil
}

// Len returns the point count observed at Open (or advanced by Upsert).
func (q *Qdrant) Len() int { return q.count }

// Dim returns the vector dimension observed at Open or EnsureCollection.
func (q *Qdrant) Dim() int { return q.dim }

// Close closes the underlying gRPC connection.
func (q *Qdrant) Close() error {
	return q.conn.Close()
}
