// Package semantic owns all Qdrant operations: collection management,
// photo record upserts, and k-NN queries.
package semantic

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/StreetSeekAI/streetseek/engine/domain"
)

// Payload keys for indexed photos.
const (
	keyFilename = "filename"
	keyLat      = "lat"
	keyLon      = "lon"
	keyHeading  = "heading"
	keyCountry  = "country"
	keyCity     = "city"
)

// VectorStore is the sole owner of the Qdrant connection.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New connects to Qdrant at the given gRPC address.
func New(addr, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	return v.conn.Close()
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist. Safe to call on every run.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// PointID derives the Qdrant point ID for a photo filename. Deterministic,
// so re-indexing the same file overwrites its point instead of adding a
// duplicate.
func PointID(filename string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(filename)).String()
}

// Upsert writes photo records keyed by their deterministic point IDs.
func (v *VectorStore) Upsert(ctx context.Context, records []domain.PhotoRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.Filename)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: payloadFor(r),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Query performs a k-NN similarity search, preserving Qdrant's ranking.
func (v *VectorStore) Query(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	return v.QueryFiltered(ctx, vector, topK, nil)
}

// QueryFiltered restricts the search to points whose payload matches all
// of the given keyword filters (e.g. country).
func (v *VectorStore) QueryFiltered(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]Hit, error) {
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for k, val := range filters {
			must = append(must, fieldMatch(k, val))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]Hit, len(resp.GetResult()))
	for i, p := range resp.GetResult() {
		hits[i] = hitFrom(p.GetScore(), p.GetPayload())
	}
	return hits, nil
}

// payloadFor converts a photo record's metadata into a Qdrant payload.
func payloadFor(r domain.PhotoRecord) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		keyFilename: {Kind: &pb.Value_StringValue{StringValue: r.Filename}},
		keyLat:      {Kind: &pb.Value_DoubleValue{DoubleValue: r.Meta.Lat}},
		keyLon:      {Kind: &pb.Value_DoubleValue{DoubleValue: r.Meta.Lon}},
		keyHeading:  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(r.Meta.Heading)}},
	}
	if r.Meta.Country != "" {
		payload[keyCountry] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: r.Meta.Country}}
	}
	if r.Meta.City != "" {
		payload[keyCity] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: r.Meta.City}}
	}
	return payload
}

// hitFrom maps a scored point's payload back into a Hit. Unknown payload
// keys are echoed in Meta.
func hitFrom(score float32, payload map[string]*pb.Value) Hit {
	h := Hit{Score: score, Meta: make(map[string]string)}
	for k, val := range payload {
		switch k {
		case keyFilename:
			h.Filename = val.GetStringValue()
		case keyLat:
			h.Lat = val.GetDoubleValue()
		case keyLon:
			h.Lon = val.GetDoubleValue()
		case keyHeading:
			h.Heading = int(val.GetIntegerValue())
		case keyCountry:
			h.Country = val.GetStringValue()
		case keyCity:
			h.City = val.GetStringValue()
		default:
			h.Meta[k] = fmt.Sprint(valueOf(val))
		}
	}
	return h
}

// valueOf unwraps a Qdrant value into a plain Go value.
func valueOf(v *pb.Value) any {
	switch kind := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	default:
		return v.String()
	}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
