package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

// Document types within the capture collection. Session markers share the
// collection with captures, so the uniqueness index carries a partial filter
// that exempts them.
const (
	typeCapture      = "api_request"
	typeSessionStart = "session_start"
	typeSessionEnd   = "session_end"
)

type Mongo struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
	logger  *slog.Logger
}

func newMongo(ctx context.Context, cfg config.MongoConfig, logger *slog.Logger) (*Mongo, error) {
	uri := fmt.Sprintf("mongodb://%s:%d", cfg.Host, cfg.Port)
	opts := options.Client().ApplyURI(uri).SetServerSelectionTimeout(cfg.Timeout)
	if cfg.Username != "" && cfg.Password != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthDB,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	m := &Mongo{
		client:  client,
		coll:    client.Database(cfg.Database).Collection(cfg.Collection),
		timeout: cfg.Timeout,
		logger:  logger,
	}
	if err := m.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	logger.Info("mongodb connected",
		"host", cfg.Host, "port", cfg.Port,
		"database", cfg.Database, "collection", cfg.Collection)
	return m, nil
}

// ensureIndexes creates the uniqueness constraint the whole dedup design
// rests on, plus the secondary indexes the stats queries use.
func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "session_id", Value: 1},
				{Key: "text_hash", Value: 1},
				{Key: "json_hash", Value: 1},
			},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "type", Value: typeCapture}}),
		},
		{
			Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "type", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "timestamp", Value: 1}},
		},
	})
	return err
}

func (m *Mongo) StoreIfNew(ctx context.Context, rec *CaptureRecord) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = time.Now().UTC()
	}

	doc := bson.D{
		{Key: "type", Value: typeCapture},
		{Key: "session_id", Value: rec.SessionID},
		{Key: "request_number", Value: rec.Sequence},
		{Key: "timestamp", Value: rec.CapturedAt},
		{Key: "endpoint", Value: rec.Endpoint},
		{Key: "extracted_texts", Value: rec.Texts},
		{Key: "json_objects", Value: objectsBSON(rec.Objects)},
		{Key: "json_objects_count", Value: len(rec.Objects)},
		{Key: "raw_size_bytes", Value: rec.RawSize},
		{Key: "payload_format", Value: rec.Format},
		{Key: "text_hash", Value: rec.TextHash},
		{Key: "json_hash", Value: rec.JSONHash},
	}

	_, err := m.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return Duplicate, nil
	}
	if err != nil {
		return Unavailable, fmt.Errorf("%w: insert capture: %w", ErrUnavailable, err)
	}
	return Stored, nil
}

func (m *Mongo) LogSessionStart(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.coll.InsertOne(ctx, bson.D{
		{Key: "type", Value: typeSessionStart},
		{Key: "session_id", Value: sessionID},
		{Key: "timestamp", Value: time.Now().UTC()},
		{Key: "source", Value: "scribe"},
	})
	if err != nil {
		return fmt.Errorf("%w: insert session start: %w", ErrUnavailable, err)
	}
	return nil
}

func (m *Mongo) LogSessionEnd(ctx context.Context, sessionID string, totalRequests int) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	_, err := m.coll.InsertOne(ctx, bson.D{
		{Key: "type", Value: typeSessionEnd},
		{Key: "session_id", Value: sessionID},
		{Key: "timestamp", Value: time.Now().UTC()},
		{Key: "total_requests", Value: totalRequests},
	})
	if err != nil {
		return fmt.Errorf("%w: insert session end: %w", ErrUnavailable, err)
	}
	return nil
}

// SessionStats counts captures and distinct hash pairs. Data written through
// StoreIfNew cannot contain duplicates, but collections predating the unique
// index can, so distinct pairs are counted rather than assumed.
func (m *Mongo) SessionStats(ctx context.Context, sessionID string) (SessionStats, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	filter := bson.D{
		{Key: "session_id", Value: sessionID},
		{Key: "type", Value: typeCapture},
	}

	total, err := m.coll.CountDocuments(ctx, filter)
	if err != nil {
		return SessionStats{}, fmt.Errorf("%w: count captures: %w", ErrUnavailable, err)
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: bson.D{
			{Key: "text_hash", Value: "$text_hash"},
			{Key: "json_hash", Value: "$json_hash"},
		}}}}},
		{{Key: "$count", Value: "unique_count"}},
	}

	cur, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return SessionStats{}, fmt.Errorf("%w: aggregate uniques: %w", ErrUnavailable, err)
	}
	defer cur.Close(ctx)

	unique := 0
	if cur.Next(ctx) {
		var row struct {
			UniqueCount int `bson:"unique_count"`
		}
		if err := cur.Decode(&row); err != nil {
			return SessionStats{}, fmt.Errorf("decode unique count: %w", err)
		}
		unique = row.UniqueCount
	}

	return SessionStats{
		SessionID:           sessionID,
		TotalRequests:       int(total),
		UniqueRequests:      unique,
		DuplicatesPrevented: int(total) - unique,
	}, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// objectsBSON converts parsed values to BSON, keeping member order via bson.D
// and turning number literals into native int64/float64 for queryability.
func objectsBSON(objects []extractor.Value) bson.A {
	out := make(bson.A, 0, len(objects))
	for _, obj := range objects {
		out = append(out, valueBSON(obj))
	}
	return out
}

func valueBSON(v extractor.Value) interface{} {
	switch v.Kind {
	case extractor.KindBool:
		return v.Bool
	case extractor.KindNumber:
		if i, err := strconv.ParseInt(v.Num, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(v.Num, 64); err == nil {
			return f
		}
		return v.Num
	case extractor.KindString:
		return v.Str
	case extractor.KindArray:
		arr := make(bson.A, 0, len(v.Arr))
		for _, el := range v.Arr {
			arr = append(arr, valueBSON(el))
		}
		return arr
	case extractor.KindObject:
		doc := make(bson.D, 0, len(v.Obj))
		for _, m := range v.Obj {
			doc = append(doc, bson.E{Key: m.Key, Value: valueBSON(m.Value)})
		}
		return doc
	}
	return nil
}
