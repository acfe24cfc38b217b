package vectorstore

import (
	"context"
	"fmt"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config holds connection settings for a Qdrant instance.
type Config struct {
	Host    string        `json:"host"`
	Port    int           `json:"port"`
	Timeout time.Duration `json:"-"` // per-call deadline, default 10s
}

// Point is one vector record to store: a UUID id, its embedding, and string
// payload fields used for filtered search.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// SearchResult holds a single vector search hit.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Client wraps gRPC connections to Qdrant's collections and points services.
// Every call carries its own deadline so a slow Qdrant cannot stall a caller
// holding an unbounded context.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	timeout     time.Duration
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		timeout:     cfg.Timeout,
	}, nil
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// EnsureCollection creates the named cosine-distance collection unless it
// already exists.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	callCtx, cancel := c.callCtx(ctx)
	defer cancel()

	exists, err := c.collections.CollectionExists(callCtx, &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}

	_, err = c.collections.Create(callCtx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// Upsert writes a batch of points in one call, waiting for the write to be
// applied so a search issued right after sees the new points.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*pb.PointStruct, 0, len(points))
	for _, p := range points {
		fields := make(map[string]*pb.Value, len(p.Payload))
		for k, v := range p.Payload {
			fields[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		structs = append(structs, &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: fields,
		})
	}

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()

	wait := true
	_, err := c.points.Upsert(callCtx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

// Search performs a nearest-neighbor search and returns the top-K hits. A
// non-empty filterField/filterValue pair restricts hits to points whose
// payload carries that exact keyword.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK uint64, filterField, filterValue string) ([]*SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          topK,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if filterField != "" && filterValue != "" {
		req.Filter = &pb.Filter{
			Must: []*pb.Condition{
				{
					ConditionOneOf: &pb.Condition_Field{
						Field: &pb.FieldCondition{
							Key:   filterField,
							Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: filterValue}},
						},
					},
				},
			},
		}
	}

	callCtx, cancel := c.callCtx(ctx)
	defer cancel()

	resp, err := c.points.Search(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}

	results := make([]*SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		payload := make(map[string]string, len(r.Payload))
		for k, v := range r.Payload {
			if sv, ok := v.Kind.(*pb.Value_StringValue); ok {
				payload[k] = sv.StringValue
			}
		}
		results = append(results, &SearchResult{
			ID:      r.Id.GetUuid(),
			Score:   r.Score,
			Payload: payload,
		})
	}
	return results, nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
