package bus

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultTopologyShape(t *testing.T) {
	topo := DefaultTopology()

	users, ok := topo.TopicFor(TopicUserEvents)
	if !ok || len(users.Queues) != 2 {
		t.Fatalf("user-events topic = %#v", users)
	}
	items, ok := topo.TopicFor(TopicCourseItemEvents)
	if !ok || len(items.Queues) != 2 {
		t.Fatalf("course-item-events topic = %#v", items)
	}

	q, ok := topo.QueueFor(QueueTrackerExport)
	if !ok {
		t.Fatalf("tracker-export queue missing")
	}
	if q.Visibility() != 60*time.Second || q.MaxDeliveries != 5 {
		t.Fatalf("queue defaults = %#v", q)
	}
}

func TestLoadTopologyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	content := `topics:
  - name: user-events
    arn: arn:aws:sns:::user-events
    queues:
      - name: course-scrape
        url: https://sqs.example.com/course-scrape
        visibility_seconds: 30
      - name: mail-scrape
        url: https://sqs.example.com/mail-scrape
        max_deliveries: 3
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	topo, err := LoadTopology(path)
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}

	q, ok := topo.QueueFor("course-scrape")
	if !ok {
		t.Fatalf("course-scrape missing")
	}
	if q.VisibilitySeconds != 30 {
		t.Fatalf("visibility_seconds = %d", q.VisibilitySeconds)
	}
	if q.MaxDeliveries != defaultMaxDeliveries {
		t.Fatalf("max_deliveries default not applied: %d", q.MaxDeliveries)
	}

	q2, _ := topo.QueueFor("mail-scrape")
	if q2.MaxDeliveries != 3 || q2.VisibilitySeconds != defaultVisibilitySeconds {
		t.Fatalf("mail-scrape = %#v", q2)
	}
}

func TestLoadTopologyEmptyPathUsesDefault(t *testing.T) {
	topo, err := LoadTopology("")
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	if len(topo.Topics) != 2 {
		t.Fatalf("topics = %d", len(topo.Topics))
	}
}

func TestLoadTopologyRejectsDuplicateQueues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	content := `topics:
  - name: a
    queues:
      - name: q1
  - name: b
    queues:
      - name: q1
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := LoadTopology(path); err == nil {
		t.Fatalf("expected duplicate queue error")
	}
}
