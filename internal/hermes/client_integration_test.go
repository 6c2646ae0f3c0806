//go:build integration

package hermes

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_PubSub(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	ctx := context.Background()
	logger := slog.Default()

	client, err := NewClient(ctx, natsURL, os.Getenv("NATS_TOKEN"), logger)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	received := make(chan ExchangeEvent, 1)

	err = client.Subscribe("swarm.scribe.test.>", func(subject string, data []byte) {
		var evt ExchangeEvent
		json.Unmarshal(data, &evt)
		received <- evt
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// Give subscription time to propagate
	time.Sleep(100 * time.Millisecond)

	err = client.Publish("swarm.scribe.test.exchange", ExchangeEvent{
		SessionID: "integration",
		Endpoint:  "/v1/test",
		Buffer:    []byte("raw \x00 bytes"),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case evt := <-received:
		if evt.SessionID != "integration" {
			t.Errorf("expected session id 'integration', got %q", evt.SessionID)
		}
		if string(evt.Buffer) != "raw \x00 bytes" {
			t.Errorf("binary buffer mangled in transit: %q", evt.Buffer)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
