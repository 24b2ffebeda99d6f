package semantic

import (
	"context"
	"fmt"
	"strings"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/satyawork/nlp-ui/engine/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// pointsClient is the subset of pb.PointsClient the store uses.
type pointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsClient is the subset of pb.CollectionsClient the store uses.
type collectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantStore is the sole owner of all Qdrant operations.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pointsClient
	collections collectionsClient
}

var _ Store = (*QdrantStore)(nil)

// NewQdrant creates a QdrantStore connected to Qdrant at the given gRPC address.
func NewQdrant(addr string) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// NewWithClients builds a QdrantStore around pre-built gRPC clients.
func NewWithClients(points pointsClient, collections collectionsClient) *QdrantStore {
	return &QdrantStore{points: points, collections: collections}
}

// Close closes the underlying gRPC connection.
func (q *QdrantStore) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// ListCollections returns all collection names.
func (q *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("semantic: list collections: %w", err)
	}
	names := make([]string, 0, len(list.GetCollections()))
	for _, c := range list.GetCollections() {
		names = append(names, c.GetName())
	}
	return names, nil
}

// CollectionInfo reads the vector size and distance of a collection.
func (q *QdrantStore) CollectionInfo(ctx context.Context, name string) (CollectionSpec, error) {
	resp, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		return CollectionSpec{}, fmt.Errorf("semantic: get collection %s: %w", name, mapStatus(err))
	}
	params := resp.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
	return CollectionSpec{
		Name:      name,
		Dimension: int(params.GetSize()),
		Metric:    metricFromDistance(params.GetDistance()),
	}, nil
}

// CreateCollection creates a single-vector collection.
func (q *QdrantStore) CreateCollection(ctx context.Context, spec CollectionSpec) error {
	_, err := q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: spec.Name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(spec.Dimension),
					Distance: distanceFromMetric(spec.Metric),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", spec.Name, mapStatus(err))
	}
	return nil
}

// DeleteCollection deletes the collection.
func (q *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", name, mapStatus(err))
	}
	return nil
}

// Upsert stores all points in one batch and waits for the write to apply.
func (q *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: map[string]*pb.Value{
				"text": {Kind: &pb.Value_StringValue{StringValue: p.Payload.Text}},
			},
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points into %s: %w", len(points), collection, mapStatus(err))
	}
	return nil
}

// Search performs k-NN similarity search with payloads.
func (q *QdrantStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]Hit, error) {
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search %s: %w", collection, mapStatus(err))
	}

	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = Hit{
			ID:      pointID(r.GetId()),
			Score:   r.GetScore(),
			Payload: Payload{Text: r.GetPayload()["text"].GetStringValue()},
		}
	}
	return hits, nil
}

func pointID(id *pb.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprint(id.GetNum())
}

// mapStatus translates gRPC status codes into store errors.
func mapStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch {
	case st.Code() == codes.NotFound:
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, st.Message())
	case st.Code() == codes.AlreadyExists,
		strings.Contains(strings.ToLower(st.Message()), "already exists"):
		return fmt.Errorf("%w: %s", ErrCollectionExists, st.Message())
	}
	return err
}

func distanceFromMetric(m Metric) pb.Distance {
	switch m {
	case MetricDot:
		return pb.Distance_Dot
	case MetricEuclid:
		return pb.Distance_Euclid
	case MetricManhattan:
		return pb.Distance_Manhattan
	default:
		return pb.Distance_Cosine
	}
}

func metricFromDistance(d pb.Distance) Metric {
	switch d {
	case pb.Distance_Dot:
		return MetricDot
	case pb.Distance_Euclid:
		return MetricEuclid
	case pb.Distance_Manhattan:
		return MetricManhattan
	default:
		return MetricCosine
	}
}
