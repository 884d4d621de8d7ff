// Package qdrant implements the vector store on a Qdrant server over gRPC.
package qdrant

import (
	"context"
	"fmt"
	"sort"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"docrag/internal/domain"
	"docrag/internal/port"
)

const (
	payloadContent = "content"
	payloadSource  = "source"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

type collectionsAPI interface {
	CollectionExists(ctx context.Context, in *pb.CollectionExistsRequest, opts ...grpc.CallOption) (*pb.CollectionExistsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store implements port.VectorStore using Qdrant. Source replacement is a
// delete followed by an upsert and is not atomic.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	dimension   int

	// missing is set while the collection waits for its first upsert to
	// learn the vector size.
	missing bool
}

var _ port.VectorStore = (*Store)(nil)

// New connects to host:port and creates the collection with cosine distance
// when it does not exist yet. With dimension 0 creation waits for the first
// upsert.
func New(ctx context.Context, host string, port int, collection string, dimension int) (*Store, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant connect: %w", domain.ErrVectorStore, err)
	}

	s := newStore(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, dimension)
	s.conn = conn
	if err := s.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func newStore(points pointsAPI, collections collectionsAPI, collection string, dimension int) *Store {
	return &Store{
		points:      points,
		collections: collections,
		collection:  collection,
		dimension:   dimension,
	}
}

func (s *Store) ensureCollection(ctx context.Context) error {
	resp, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: s.collection})
	if err != nil {
		return fmt.Errorf("%w: qdrant collection check: %w", domain.ErrVectorStore, err)
	}
	if resp.GetResult().GetExists() {
		return nil
	}
	if s.dimension == 0 {
		s.missing = true
		return nil
	}
	return s.create(ctx)
}

func (s *Store) create(ctx context.Context) error {
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{Size: uint64(s.dimension), Distance: pb.Distance_Cosine},
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: qdrant create collection %s: %w", domain.ErrVectorStore, s.collection, err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, entries []domain.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if s.missing {
		s.dimension = len(entries[0].Vector)
		if err := s.create(ctx); err != nil {
			return err
		}
		s.missing = false
	}

	points := make([]*pb.PointStruct, len(entries))
	for i, e := range entries {
		payload := map[string]*pb.Value{
			payloadContent: {Kind: &pb.Value_StringValue{StringValue: e.Text}},
			payloadSource:  {Kind: &pb.Value_StringValue{StringValue: e.Metadata.Source}},
		}
		for k, v := range e.Metadata.Extra {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: e.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: e.Vector}}},
			Payload: payload,
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: qdrant upsert: %w", domain.ErrVectorStore, err)
	}
	return nil
}

func (s *Store) DeleteBySource(ctx context.Context, sourceKey string) (int, error) {
	if s.missing {
		return 0, nil
	}
	filter := sourceFilter(sourceKey)

	exact := true
	count, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: qdrant count %s: %w", domain.ErrVectorStore, sourceKey, err)
	}
	n := int(count.GetResult().GetCount())
	if n == 0 {
		return 0, nil
	}

	wait := true
	_, err = s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("%w: qdrant delete %s: %w", domain.ErrVectorStore, sourceKey, err)
	}
	return n, nil
}

func (s *Store) SimilaritySearch(ctx context.Context, query []float32, k int) ([]domain.ScoredEntry, error) {
	if k <= 0 || s.missing {
		return nil, nil
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         query,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant search: %w", domain.ErrVectorStore, err)
	}

	results := make([]domain.ScoredEntry, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		entry := domain.VectorEntry{
			ID:       pt.GetId().GetUuid(),
			Metadata: domain.Metadata{Extra: make(map[string]string)},
		}
		for key, v := range pt.GetPayload() {
			switch key {
			case payloadContent:
				entry.Text = v.GetStringValue()
			case payloadSource:
				entry.Metadata.Source = v.GetStringValue()
			default:
				entry.Metadata.Extra[key] = v.GetStringValue()
			}
		}
		results = append(results, domain.ScoredEntry{Entry: entry, Score: float64(pt.GetScore())})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})
	return results, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if s.missing {
		return 0, nil
	}
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: s.collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("%w: qdrant count: %w", domain.ErrVectorStore, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func sourceFilter(sourceKey string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
				Key:   payloadSource,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: sourceKey}},
			}},
		}},
	}
}
