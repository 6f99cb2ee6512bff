package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/linecook-ai/linecook/pkg/domain"
	"github.com/linecook-ai/linecook/pkg/log"
)

const (
	qdrantDialTimeout  = 30 * time.Second
	defaultVectorSize  = 1536 // text-embedding-3-small
	defaultDistance    = pb.Distance_Cosine
	defaultCollection  = "linecook_chunks"
	scrollPageSize     = 256
)

var waitTrue = true

// QdrantIndex implements domain.ChunkIndex against a Qdrant instance.
// Chunk IDs are deterministic strings, so they are mapped to stable UUIDs
// for point IDs and the original ID is kept in the payload.
type QdrantIndex struct {
	points         pb.PointsClient
	collectionName string
	conn           *grpc.ClientConn
	vectorSize     uint64
}

func NewQdrantIndex(url, collection string) (*QdrantIndex, error) {
	if collection == "" {
		collection = defaultCollection
	}
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "https://")

	ctx, cancel := context.WithTimeout(context.Background(), qdrantDialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, url, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	idx := &QdrantIndex{
		points:         pb.NewPointsClient(conn),
		collectionName: collection,
		conn:           conn,
		vectorSize:     defaultVectorSize,
	}
	if err := idx.ensureCollection(ctx, pb.NewCollectionsClient(conn), idx.vectorSize); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return idx, nil
}

func (q *QdrantIndex) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, client pb.CollectionsClient, vectorSize uint64) error {
	listResp, err := client.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == q.collectionName {
			info, err := client.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: q.collectionName})
			if err == nil && info.Result != nil && info.Result.Config != nil && info.Result.Config.Params != nil {
				if vc := info.Result.Config.Params.GetVectorsConfig(); vc != nil {
					if params := vc.GetParams(); params != nil {
						q.vectorSize = params.Size
					}
				}
			}
			return nil
		}
	}

	_, err = client.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: defaultDistance,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	q.vectorSize = vectorSize
	log.Info("created Qdrant collection", "collection", q.collectionName, "vector_size", vectorSize)
	return nil
}

func pointUUID(chunkID string) string {
	if _, err := uuid.Parse(chunkID); err == nil {
		return chunkID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

// ReplaceChunks deletes the document's points, then upserts the new set
// with Wait so the read-back verification sees them.
func (q *QdrantIndex) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	if err := q.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	// Adopt the embedding width of the first vectored chunk.
	for _, c := range chunks {
		if n := uint64(len(c.Vector)); n > 0 && n != q.vectorSize {
			if err := q.ensureCollection(ctx, pb.NewCollectionsClient(q.conn), n); err != nil {
				return err
			}
			break
		}
	}

	points := make([]*pb.PointStruct, 0, len(chunks))
	for _, chunk := range chunks {
		vec := make([]float32, len(chunk.Vector))
		for i, v := range chunk.Vector {
			vec[i] = float32(v)
		}

		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointUUID(chunk.ID)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vec}},
			},
			Payload: map[string]*pb.Value{
				"chunk_id": {Kind: &pb.Value_StringValue{StringValue: chunk.ID}},
				"doc_id":   {Kind: &pb.Value_StringValue{StringValue: documentID}},
				"content":  {Kind: &pb.Value_StringValue{StringValue: chunk.Content}},
				"page":     {Kind: &pb.Value_IntegerValue{IntegerValue: int64(chunk.Page)}},
				"offset":   {Kind: &pb.Value_IntegerValue{IntegerValue: int64(chunk.Offset)}},
			},
		})
	}

	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collectionName,
		Points:         points,
		Wait:           &waitTrue,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float64, topK int) ([]domain.Chunk, error) {
	if len(vector) == 0 || topK <= 0 {
		return nil, nil
	}

	queryVector := make([]float32, len(vector))
	for i, v := range vector {
		queryVector[i] = float32(v)
	}

	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         queryVector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant search: %v", domain.ErrUpstreamUnavailable, err)
	}

	results := make([]domain.Chunk, 0, len(resp.Result))
	for _, point := range resp.Result {
		c := chunkFromPayload(point.Payload)
		c.Score = float64(point.Score)
		results = append(results, c)
	}
	return results, nil
}

// SearchKeyword scrolls points whose content text-matches any term.
func (q *QdrantIndex) SearchKeyword(ctx context.Context, terms []string, topK int) ([]domain.Chunk, error) {
	if len(terms) == 0 || topK <= 0 {
		return nil, nil
	}

	conditions := make([]*pb.Condition, 0, len(terms))
	for _, term := range terms {
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   "content",
					Match: &pb.Match{MatchValue: &pb.Match_Text{Text: term}},
				},
			},
		})
	}

	limit := uint32(topK)
	resp, err := q.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: q.collectionName,
		Filter:         &pb.Filter{Should: conditions},
		Limit:          &limit,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant scroll: %v", domain.ErrUpstreamUnavailable, err)
	}

	results := make([]domain.Chunk, 0, len(resp.Result))
	for _, point := range resp.Result {
		results = append(results, chunkFromPayload(point.Payload))
	}
	return results, nil
}

func (q *QdrantIndex) ChunksForDocument(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	var offset *pb.PointId
	limit := uint32(scrollPageSize)

	for {
		resp, err := q.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: q.collectionName,
			Filter:         docFilter(documentID),
			Limit:          &limit,
			Offset:         offset,
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("%w: qdrant scroll: %v", domain.ErrUpstreamUnavailable, err)
		}
		for _, point := range resp.Result {
			chunks = append(chunks, chunkFromPayload(point.Payload))
		}
		if resp.NextPageOffset == nil || len(resp.Result) == 0 {
			return chunks, nil
		}
		offset = resp.NextPageOffset
	}
}

func (q *QdrantIndex) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collectionName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: docFilter(documentID)},
		},
		Wait: &waitTrue,
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func docFilter(documentID string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   "doc_id",
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: documentID}},
				},
			},
		}},
	}
}

func chunkFromPayload(payload map[string]*pb.Value) domain.Chunk {
	var c domain.Chunk
	if payload == nil {
		return c
	}
	if v, ok := payload["chunk_id"]; ok {
		c.ID = v.GetStringValue()
	}
	if v, ok := payload["doc_id"]; ok {
		c.DocumentID = v.GetStringValue()
	}
	if v, ok := payload["content"]; ok {
		c.Content = v.GetStringValue()
	}
	if v, ok := payload["page"]; ok {
		c.Page = int(v.GetIntegerValue())
	}
	if v, ok := payload["offset"]; ok {
		c.Offset = int(v.GetIntegerValue())
	}
	return c
}
