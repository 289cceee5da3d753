package qdrant

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/booksage/bookbuy-agent/internal/domain/model"
	"github.com/booksage/bookbuy-agent/internal/domain/repository"
	"github.com/booksage/bookbuy-agent/pkg/logx"
)

// Payload keys written by UpsertBooks and read by SearchBooks.
const (
	fieldTitle         = "title"
	fieldAuthors       = "authors"
	fieldPublishedDate = "published_date"
	fieldCategories    = "categories"
	fieldBookLength    = "book_length"
	fieldDescription   = "description"
	fieldPageContent   = "page_content"

	descriptionMarker = "Description:"
	maxRecvMsgSize    = 16 << 20
)

// Client implements the book search and index repositories using the official Qdrant Go SDK.
type Client struct {
	client     *pb.Client
	collection string
	vectorSize uint64
}

var (
	_ repository.BookSearchRepository = (*Client)(nil)
	_ repository.BookIndexRepository  = (*Client)(nil)
)

// NewClient creates a new Qdrant client and ensures the target collection exists.
func NewClient(ctx context.Context, host string, port int, collection string, vectorSize uint64) (*Client, error) {
	client, err := pb.NewClient(&pb.Config{
		Host: host,
		Port: port,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxRecvMsgSize)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}

	c := &Client{
		client:     client,
		collection: collection,
		vectorSize: vectorSize,
	}

	if err := c.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ensure collection %q: %w", collection, err)
	}

	logx.Info().Str("host", host).Int("port", port).Str("collection", collection).Msg("[Qdrant] Connected")
	return c, nil
}

// ensureCollection creates the collection and its title index if they do not exist yet.
func (c *Client) ensureCollection(ctx context.Context) error {
	exists, err := c.client.CollectionExists(ctx, c.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = c.client.CreateCollection(ctx, &pb.CreateCollection{
		CollectionName: c.collection,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     c.vectorSize,
			Distance: pb.Distance_Cosine,
		}),
	})
	if err != nil {
		return err
	}

	// Exclusion filters match on title.
	_, err = c.client.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: c.collection,
		FieldName:      fieldTitle,
		FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to index %q: %w", fieldTitle, err)
	}

	logx.Info().Str("collection", c.collection).Msg("[Qdrant] Created collection")
	return nil
}

// SearchBooks returns up to limit books nearest to vector whose titles are not excluded.
func (c *Client) SearchBooks(ctx context.Context, vector []float32, limit int, excluded []string) ([]model.CandidateBook, error) {
	if limit <= 0 {
		return nil, nil
	}

	points, err := c.client.Query(ctx, &pb.QueryPoints{
		CollectionName: c.collection,
		Query:          pb.NewQuery(vector...),
		Filter:         exclusionFilter(excluded),
		Limit:          pb.PtrOf(uint64(limit)),
		WithPayload:    pb.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query failed: %w", err)
	}

	skip := make(map[string]struct{}, len(excluded))
	for _, t := range excluded {
		skip[t] = struct{}{}
	}

	books := make([]model.CandidateBook, 0, len(points))
	for _, p := range points {
		book, ok := candidateFromPayload(p.GetPayload())
		if !ok {
			continue
		}
		if _, excludedTitle := skip[book.Title]; excludedTitle {
			continue
		}
		books = append(books, book)
	}

	logx.Debug().Int("hits", len(points)).Int("kept", len(books)).Msg("[Qdrant] Search complete")
	return books, nil
}

// UpsertBooks writes one point per book keyed by a title-derived id.
func (c *Client) UpsertBooks(ctx context.Context, books []model.CatalogBook, vectors [][]float32) error {
	if len(books) != len(vectors) {
		return fmt.Errorf("got %d books but %d vectors", len(books), len(vectors))
	}
	if len(books) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(books))
	for i, b := range books {
		if len(vectors[i]) == 0 {
			return fmt.Errorf("book %q has an empty vector", b.Title)
		}
		payload, err := pb.TryValueMap(bookPayload(b))
		if err != nil {
			return fmt.Errorf("book %q: %w", b.Title, err)
		}
		points = append(points, &pb.PointStruct{
			Id:      pb.NewIDUUID(pointID(b.Title)),
			Vectors: pb.NewVectors(vectors[i]...),
			Payload: payload,
		})
	}

	_, err := c.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: c.collection,
		Wait:           pb.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}

	logx.Info().Int("points", len(points)).Str("collection", c.collection).Msg("[Qdrant] Upserted books")
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (c *Client) Close() error {
	return c.client.Close()
}

func exclusionFilter(excluded []string) *pb.Filter {
	titles := make([]string, 0, len(excluded))
	for _, t := range excluded {
		if t != "" {
			titles = append(titles, t)
		}
	}
	if len(titles) == 0 {
		return nil
	}
	return &pb.Filter{
		MustNot: []*pb.Condition{
			pb.NewMatchKeywords(fieldTitle, titles...),
		},
	}
}

// pointID derives a stable UUID so re-seeding a title overwrites its point.
func pointID(title string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("bookbuy:"+title)).String()
}

// bookPayload only holds value types the SDK accepts; string slices go through toAnySlice.
func bookPayload(b model.CatalogBook) map[string]any {
	payload := map[string]any{
		fieldTitle:         b.Title,
		fieldAuthors:       toAnySlice(b.Authors),
		fieldPublishedDate: b.PublishedDate,
		fieldCategories:    toAnySlice(b.Categories),
		fieldDescription:   b.Description,
	}
	if b.BookLength != nil {
		payload[fieldBookLength] = *b.BookLength
	}
	return payload
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func candidateFromPayload(payload map[string]*pb.Value) (model.CandidateBook, bool) {
	title := strings.TrimSpace(payload[fieldTitle].GetStringValue())
	if title == "" {
		return model.CandidateBook{}, false
	}

	description := payload[fieldDescription].GetStringValue()
	if description == "" {
		description = descriptionFromContent(payload[fieldPageContent].GetStringValue())
	}

	return model.CandidateBook{
		Title:         title,
		Authors:       stringList(payload[fieldAuthors]),
		PublishedDate: payload[fieldPublishedDate].GetStringValue(),
		Categories:    stringList(payload[fieldCategories]),
		PageLength:    intValue(payload[fieldBookLength]),
		Description:   strings.TrimSpace(description),
	}, true
}

// descriptionFromContent extracts the text after the description marker of a full document.
func descriptionFromContent(content string) string {
	if idx := strings.Index(content, descriptionMarker); idx >= 0 {
		return strings.TrimSpace(content[idx+len(descriptionMarker):])
	}
	return strings.TrimSpace(content)
}

func stringList(v *pb.Value) []string {
	if v == nil {
		return nil
	}
	if list := v.GetListValue(); list != nil {
		out := make([]string, 0, len(list.GetValues()))
		for _, item := range list.GetValues() {
			if s := strings.TrimSpace(item.GetStringValue()); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if s := strings.TrimSpace(v.GetStringValue()); s != "" {
		return []string{s}
	}
	return nil
}

func intValue(v *pb.Value) *int {
	if v == nil {
		return nil
	}
	switch k := v.GetKind().(type) {
	case *pb.Value_IntegerValue:
		n := int(k.IntegerValue)
		return &n
	case *pb.Value_DoubleValue:
		n := int(k.DoubleValue)
		return &n
	case *pb.Value_StringValue:
		n, err := strconv.Atoi(strings.TrimSpace(k.StringValue))
		if err != nil {
			return nil
		}
		return &n
	}
	return nil
}
