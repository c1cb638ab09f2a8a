// Package semantic owns vector storage. VectorStore is the Qdrant backend,
// PGStore the Postgres/pgvector backend and MemoryStore an in-process one.
// All three key records by their string record id and return hits with
// higher-is-more-similar scores.
package semantic

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/lorekeep/lorekeep/engine/domain"
)

// Store is the vector store collaborator.
type Store interface {
	EnsureCollection(ctx context.Context) (domain.CollectionStatus, error)
	LoadCollection(ctx context.Context) (domain.CollectionStatus, error)
	Insert(ctx context.Context, records []domain.Record) (int, error)
	Upsert(ctx context.Context, records []domain.Record) (int, error)
	Search(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.RetrievedChunk, error)
	Delete(ctx context.Context, filter domain.Filter) (int, error)
}

var (
	_ Store = (*VectorStore)(nil)
	_ Store = (*PGStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	CollectionExists(ctx context.Context, in *pb.CollectionExistsRequest, opts ...grpc.CallOption) (*pb.CollectionExistsResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations for one collection.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	spec        domain.CollectionSpec
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, spec domain.CollectionSpec) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), spec)
	vs.conn = conn
	return vs, nil
}

// NewWithClients builds a VectorStore over existing gRPC clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, spec domain.CollectionSpec) *VectorStore {
	if spec.Metric == "" {
		spec.Metric = domain.MetricCosine
	}
	return &VectorStore{points: points, collections: collections, spec: spec}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// Spec returns the collection this store manages.
func (v *VectorStore) Spec() domain.CollectionSpec { return v.spec }

// EnsureCollection creates the collection if it doesn't exist. Losing a
// creation race to another writer also reports StatusAlreadyExists.
func (v *VectorStore) EnsureCollection(ctx context.Context) (domain.CollectionStatus, error) {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return 0, fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.spec.Name {
			return domain.StatusAlreadyExists, nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.spec.Name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(v.spec.Dimension),
					Distance: distance(v.spec.Metric),
				},
			},
		},
	})
	if status.Code(err) == codes.AlreadyExists {
		return domain.StatusAlreadyExists, nil
	}
	if err != nil {
		return 0, fmt.Errorf("semantic: create collection %s: %w", v.spec.Name, err)
	}
	return domain.StatusCreated, nil
}

// LoadCollection reports StatusAlreadyLoaded for an existing collection;
// Qdrant serves every collection without an explicit load.
func (v *VectorStore) LoadCollection(ctx context.Context) (domain.CollectionStatus, error) {
	resp, err := v.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: v.spec.Name})
	if err != nil {
		return 0, fmt.Errorf("semantic: collection exists %s: %w", v.spec.Name, err)
	}
	if !resp.GetResult().GetExists() {
		return 0, fmt.Errorf("semantic: collection %s does not exist", v.spec.Name)
	}
	return domain.StatusAlreadyLoaded, nil
}

// DeleteCollection drops the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.spec.Name})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.spec.Name, err)
	}
	return nil
}

// Insert writes records. Point ids derive from record ids, so an insert of
// an existing id overwrites it with identical content.
func (v *VectorStore) Insert(ctx context.Context, records []domain.Record) (int, error) {
	return v.Upsert(ctx, records)
}

// Upsert stores records and returns how many were written.
func (v *VectorStore) Upsert(ctx context.Context, records []domain.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Vector},
				},
			},
			Payload: toPayload(r.Payload()),
		}
	}

	wait := true
	resp, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.spec.Name,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: upsert %d points: %w: %w", len(records), domain.ErrStoreWrite, err)
	}
	if st := resp.GetResult().GetStatus(); st != pb.UpdateStatus_Completed {
		return 0, fmt.Errorf("semantic: upsert %d points: %w: status %s", len(records), domain.ErrStoreWrite, st)
	}
	return len(records), nil
}

// Search performs k-NN similarity search with an optional filter.
func (v *VectorStore) Search(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.RetrievedChunk, error) {
	req := &pb.SearchPoints{
		CollectionName: v.spec.Name,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		Filter:         toFilter(filter),
	}
	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]domain.RetrievedChunk, len(resp.GetResult()))
	for i, p := range resp.GetResult() {
		results[i] = fromPayload(p.GetPayload(), normalize(v.spec.Metric, p.GetScore()))
	}
	return results, nil
}

// Delete removes every point matching filter and returns how many there
// were. An empty filter is refused rather than wiping the collection.
func (v *VectorStore) Delete(ctx context.Context, filter domain.Filter) (int, error) {
	if filter.IsEmpty() {
		return 0, fmt.Errorf("semantic: delete requires a filter")
	}
	f := toFilter(filter)
	exact := true
	cnt, err := v.points.Count(ctx, &pb.CountPoints{CollectionName: v.spec.Name, Filter: f, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("semantic: count: %w", err)
	}
	n := int(cnt.GetResult().GetCount())
	if n == 0 {
		return 0, nil
	}

	wait := true
	_, err = v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.spec.Name,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: f},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: delete: %w: %w", domain.ErrStoreWrite, err)
	}
	return n, nil
}
