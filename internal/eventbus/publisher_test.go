package eventbus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestAnnouncementJSON verifies the wire shape of an announcement.
func TestAnnouncementJSON(t *testing.T) {
	a := Announcement{
		Kind:                   KindStarted,
		TestRunID:              "aaf277ad-2c9d-4d30-8a8f-a0c6141cd566",
		ArtifactID:             "730f2ec6-ed5e-4df4-a59f-c25f94b2a0b7",
		ArtifactIdentity:       "pkg:docker/etos/runner@1.0.0",
		Suites:                 []SuiteSummary{{Name: "Main suite", Priority: 1}},
		IUTProvider:            "default",
		ExecutionSpaceProvider: "default",
		LogAreaProvider:        "default",
	}

	body, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["event"] != KindStarted {
		t.Errorf("event = %v, want %q", decoded["event"], KindStarted)
	}
	if decoded["test_run_id"] != "aaf277ad-2c9d-4d30-8a8f-a0c6141cd566" {
		t.Errorf("test_run_id = %v", decoded["test_run_id"])
	}
	suites, ok := decoded["suites"].([]interface{})
	if !ok || len(suites) != 1 {
		t.Fatalf("suites = %v, want one entry", decoded["suites"])
	}
}

// TestAnnouncementJSONOmitsEmpty verifies optional fields stay off the wire.
func TestAnnouncementJSONOmitsEmpty(t *testing.T) {
	a := Announcement{Kind: KindAborted, TestRunID: "run-id"}

	body, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"artifact_id", "artifact_identity", "suites", "iut_provider"} {
		if _, present := decoded[key]; present {
			t.Errorf("key %q present, want omitted", key)
		}
	}
}

// TestMessageID verifies the broker message ID derivation.
func TestMessageID(t *testing.T) {
	a := Announcement{Kind: KindStarted, TestRunID: "run-1"}
	if got := messageID(a); got != "run-1.testrun.started" {
		t.Errorf("messageID() = %q, want %q", got, "run-1.testrun.started")
	}
}

// TestPublishRequiresConnection verifies publishing before Connect fails.
func TestPublishRequiresConnection(t *testing.T) {
	p := NewAMQPPublisher("amqp://localhost:5672/", "testgate", newTestLogger())
	err := p.Publish(context.Background(), Announcement{Kind: KindStarted, TestRunID: "run-1"})
	if err == nil {
		t.Error("Publish() succeeded without a connection, want error")
	}
}

// TestPublishValidatesAnnouncement verifies the kind/run-id requirement.
func TestPublishValidatesAnnouncement(t *testing.T) {
	p := NewAMQPPublisher("amqp://localhost:5672/", "testgate", newTestLogger())
	if err := p.Publish(context.Background(), Announcement{}); err == nil {
		t.Error("Publish() succeeded for empty announcement, want error")
	}
	if err := p.Publish(context.Background(), Announcement{Kind: KindStarted}); err == nil {
		t.Error("Publish() succeeded without a run id, want error")
	}
}

// TestConnectRefused verifies a clear error when the broker is unreachable.
func TestConnectRefused(t *testing.T) {
	p := NewAMQPPublisher("amqp://127.0.0.1:1/", "testgate", newTestLogger())
	if err := p.Connect(); err == nil {
		t.Error("Connect() succeeded against a closed port, want error")
	}
}

// TestCloseWithoutConnect verifies Close is safe on an unconnected
// publisher.
func TestCloseWithoutConnect(t *testing.T) {
	p := NewAMQPPublisher("amqp://localhost:5672/", "testgate", newTestLogger())
	if err := p.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
}

// TestNopPublisher verifies the disabled-bus publisher accepts everything.
func TestNopPublisher(t *testing.T) {
	p := NewNopPublisher(newTestLogger())
	if err := p.Publish(context.Background(), Announcement{Kind: KindStarted, TestRunID: "run-1"}); err != nil {
		t.Errorf("Publish() failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
}
