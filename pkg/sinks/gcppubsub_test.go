package sinks

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
)

func TestGCPPubSubSinkPublishes(t *testing.T) {
	// Use the in-memory Pub/Sub emulator.
	server := pstest.NewServer()
	defer server.Close()
	defer os.Unsetenv("PUBSUB_EMULATOR_HOST")
	os.Setenv("PUBSUB_EMULATOR_HOST", server.Addr)

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if _, err := client.CreateTopic(ctx, "mirror-topic"); err != nil {
		t.Fatalf("create topic: %v", err)
	}

	s, err := newGCPPubSubSink(ctx, SinkConfig{
		ID:   "gcp-1",
		Type: TypeGCPPubSub,
		GCP:  &GCPSinkConfig{ProjectID: "test-project", Topic: "mirror-topic"},
	}, nil)
	if err != nil {
		t.Fatalf("newGCPPubSubSink: %v", err)
	}

	if err := s.Send(ctx, testEnvelope(t)); err != nil {
		t.Fatalf("Send: %v", err)
	}
}
