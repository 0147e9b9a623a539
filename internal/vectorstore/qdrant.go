// Package vectorstore indexes episode feature vectors in Qdrant.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/nidhogg/nuka-memory/internal/episodic"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config holds connection settings for a Qdrant instance.
type Config struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
	Dimension  int    `json:"dimension"`
}

// Match is a single nearest-neighbour hit.
type Match struct {
	EpisodeID uint64  `json:"episode_id"`
	Score     float32 `json:"score"`
	Context   string  `json:"context"`
	Narrative string  `json:"narrative"`
}

// Client wraps gRPC connections to Qdrant's collections and points services.
type Client struct {
	cfg         Config
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	logger      *zap.Logger
}

// NewClient dials the Qdrant gRPC endpoint. Vectors are padded or cut to
// Dimension (default 64) before they are stored.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collection == "" {
		cfg.Collection = "episodes"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 64
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		cfg:         cfg,
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		logger:      logger,
	}, nil
}

// EnsureCollection creates the episode collection if it does not exist.
func (c *Client) EnsureCollection(ctx context.Context) error {
	name := c.cfg.Collection
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(c.cfg.Dimension),
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

// fit converts v to float32 and pads or truncates it to dim.
func fit(v []float64, dim int) []float32 {
	out := make([]float32, dim)
	for i := 0; i < dim && i < len(v); i++ {
		out[i] = float32(v[i])
	}
	return out
}

func point(rec episodic.Record, dim int) *pb.PointStruct {
	return &pb.PointStruct{
		Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: rec.ID}},
		Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: fit(rec.Sensory, dim)}}},
		Payload: map[string]*pb.Value{
			"context":      {Kind: &pb.Value_StringValue{StringValue: rec.Context}},
			"narrative":    {Kind: &pb.Value_StringValue{StringValue: rec.Narrative}},
			"salience":     {Kind: &pb.Value_DoubleValue{DoubleValue: rec.Salience}},
			"consolidated": {Kind: &pb.Value_BoolValue{BoolValue: rec.Consolidated}},
			"timestamp":    {Kind: &pb.Value_IntegerValue{IntegerValue: rec.Timestamp.Unix()}},
		},
	}
}

// IndexEpisodes upserts the given episodes in one request. Empty input is
// a no-op.
func (c *Client) IndexEpisodes(ctx context.Context, recs []episodic.Record) error {
	if len(recs) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(recs))
	for i, rec := range recs {
		points[i] = point(rec, c.cfg.Dimension)
	}
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: c.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert %d episodes: %w", len(recs), err)
	}
	c.logger.Debug("episodes indexed", zap.Int("count", len(recs)))
	return nil
}

// Similar returns the k episodes nearest to vector.
func (c *Client) Similar(ctx context.Context, vector []float64, k int) ([]Match, error) {
	if k <= 0 {
		k = 10
	}
	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: c.cfg.Collection,
		Vector:         fit(vector, c.cfg.Dimension),
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", c.cfg.Collection, err)
	}
	out := make([]Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, toMatch(r.Id.GetNum(), r.Score, r.Payload))
	}
	return out, nil
}

func toMatch(id uint64, score float32, payload map[string]*pb.Value) Match {
	m := Match{EpisodeID: id, Score: score}
	if v, ok := payload["context"]; ok {
		m.Context = v.GetStringValue()
	}
	if v, ok := payload["narrative"]; ok {
		m.Narrative = v.GetStringValue()
	}
	return m
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
