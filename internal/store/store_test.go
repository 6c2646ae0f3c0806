package store

import (
	"context"
	"log/slog"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{Stored, "stored"},
		{Duplicate, "duplicate"},
		{Unavailable, "unavailable"},
		{Outcome(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.want {
			t.Errorf("Outcome(%d).String() = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := config.Config{StoreDriver: "sqlite"}

	_, err := New(context.Background(), cfg, slog.Default())
	if err == nil {
		t.Fatal("expected error for unknown store driver")
	}
}

func TestNew_PostgresRequiresURL(t *testing.T) {
	cfg := config.Config{StoreDriver: "postgres"}

	_, err := New(context.Background(), cfg, slog.Default())
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is empty")
	}
}

func TestValueBSON_Numbers(t *testing.T) {
	res := extractor.New(0).Extract([]byte(`{"i":42,"f":0.5,"big":9223372036854775807}`))
	if len(res.Objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(res.Objects))
	}

	doc := valueBSON(res.Objects[0]).(bson.D)

	if v, ok := doc[0].Value.(int64); !ok || v != 42 {
		t.Errorf("expected int64 42, got %T %v", doc[0].Value, doc[0].Value)
	}
	if v, ok := doc[1].Value.(float64); !ok || v != 0.5 {
		t.Errorf("expected float64 0.5, got %T %v", doc[1].Value, doc[1].Value)
	}
	if v, ok := doc[2].Value.(int64); !ok || v != 9223372036854775807 {
		t.Errorf("expected max int64 preserved exactly, got %T %v", doc[2].Value, doc[2].Value)
	}
}

func TestValueBSON_PreservesMemberOrder(t *testing.T) {
	res := extractor.New(0).Extract([]byte(`{"z":1,"a":{"y":null,"b":[true,"s"]}}`))
	if len(res.Objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(res.Objects))
	}

	doc := valueBSON(res.Objects[0]).(bson.D)

	if doc[0].Key != "z" || doc[1].Key != "a" {
		t.Errorf("expected top-level order [z a], got [%s %s]", doc[0].Key, doc[1].Key)
	}

	nested := doc[1].Value.(bson.D)
	if nested[0].Key != "y" || nested[1].Key != "b" {
		t.Errorf("expected nested order [y b], got [%s %s]", nested[0].Key, nested[1].Key)
	}
	if nested[0].Value != nil {
		t.Errorf("expected null member to stay nil, got %v", nested[0].Value)
	}

	arr := nested[1].Value.(bson.A)
	if arr[0] != true || arr[1] != "s" {
		t.Errorf("expected array [true s], got %v", arr)
	}
}
