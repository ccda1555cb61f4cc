package bus

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Topic and queue names of the default topology.
const (
	TopicUserEvents       = "user-events"
	TopicCourseItemEvents = "course-item-events"

	QueueCourseScrape  = "course-scrape"
	QueueMailScrape    = "mail-scrape"
	QueueTrackerExport = "tracker-export"
	QueueEmailNotify   = "email-notify"
)

const (
	defaultVisibilitySeconds = 60
	defaultMaxDeliveries     = 5
)

// Topology declares the topics, their subscribed queues, and each queue's
// delivery budget. Loaded from YAML or taken from the compiled-in default.
type Topology struct {
	Topics []TopicConfig `yaml:"topics"`
}

// TopicConfig declares one topic. ARN is only consulted by the aws backend.
type TopicConfig struct {
	Name   string        `yaml:"name"`
	ARN    string        `yaml:"arn"`
	Queues []QueueConfig `yaml:"queues"`
}

// QueueConfig declares one queue subscription. URL is only consulted by the
// aws backend.
type QueueConfig struct {
	Name              string `yaml:"name"`
	URL               string `yaml:"url"`
	VisibilitySeconds int64  `yaml:"visibility_seconds"`
	MaxDeliveries     int    `yaml:"max_deliveries"`
}

// Visibility returns the queue's visibility window.
func (q QueueConfig) Visibility() time.Duration {
	return time.Duration(q.VisibilitySeconds) * time.Second
}

// DefaultTopology mirrors the deployment this service replaces: user events
// feed the two scrapers, course-item events feed the two terminal actions.
func DefaultTopology() Topology {
	return Topology{Topics: []TopicConfig{
		{
			Name: TopicUserEvents,
			Queues: []QueueConfig{
				{Name: QueueCourseScrape, VisibilitySeconds: defaultVisibilitySeconds, MaxDeliveries: defaultMaxDeliveries},
				{Name: QueueMailScrape, VisibilitySeconds: defaultVisibilitySeconds, MaxDeliveries: defaultMaxDeliveries},
			},
		},
		{
			Name: TopicCourseItemEvents,
			Queues: []QueueConfig{
				{Name: QueueTrackerExport, VisibilitySeconds: defaultVisibilitySeconds, MaxDeliveries: defaultMaxDeliveries},
				{Name: QueueEmailNotify, VisibilitySeconds: defaultVisibilitySeconds, MaxDeliveries: defaultMaxDeliveries},
			},
		},
	}}
}

// LoadTopology reads a topology file, or returns the default when path is
// empty.
func LoadTopology(path string) (Topology, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultTopology(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("read topology file: %w", err)
	}

	var topo Topology
	if err := yaml.Unmarshal(raw, &topo); err != nil {
		return Topology{}, fmt.Errorf("decode topology file: %w", err)
	}

	topo = sanitizeTopology(topo)
	if err := validateTopology(topo); err != nil {
		return Topology{}, err
	}
	return topo, nil
}

// sanitizeTopology trims names and fills per-queue defaults.
func sanitizeTopology(topo Topology) Topology {
	for i := range topo.Topics {
		t := &topo.Topics[i]
		t.Name = strings.TrimSpace(t.Name)
		t.ARN = strings.TrimSpace(t.ARN)
		for j := range t.Queues {
			q := &t.Queues[j]
			q.Name = strings.TrimSpace(q.Name)
			q.URL = strings.TrimSpace(q.URL)
			if q.VisibilitySeconds <= 0 {
				q.VisibilitySeconds = defaultVisibilitySeconds
			}
			if q.MaxDeliveries <= 0 {
				q.MaxDeliveries = defaultMaxDeliveries
			}
		}
	}
	return topo
}

// validateTopology checks names are present and unique across the file.
func validateTopology(topo Topology) error {
	if len(topo.Topics) == 0 {
		return errors.New("topology contains no topics")
	}

	topicNames := make(map[string]struct{}, len(topo.Topics))
	queueNames := make(map[string]struct{})
	for i, t := range topo.Topics {
		if t.Name == "" {
			return fmt.Errorf("topics[%d]: name is required", i)
		}
		if _, exists := topicNames[t.Name]; exists {
			return fmt.Errorf("duplicate topic name %q", t.Name)
		}
		topicNames[t.Name] = struct{}{}

		if len(t.Queues) == 0 {
			return fmt.Errorf("topic %q has no queues", t.Name)
		}
		for j, q := range t.Queues {
			if q.Name == "" {
				return fmt.Errorf("topic %q queues[%d]: name is required", t.Name, j)
			}
			if _, exists := queueNames[q.Name]; exists {
				return fmt.Errorf("duplicate queue name %q", q.Name)
			}
			queueNames[q.Name] = struct{}{}
		}
	}
	return nil
}

// QueueFor returns the config of a named queue.
func (t Topology) QueueFor(name string) (QueueConfig, bool) {
	for _, topic := range t.Topics {
		for _, q := range topic.Queues {
			if q.Name == name {
				return q, true
			}
		}
	}
	return QueueConfig{}, false
}

// TopicFor returns the config of a named topic.
func (t Topology) TopicFor(name string) (TopicConfig, bool) {
	for _, topic := range t.Topics {
		if topic.Name == name {
			return topic, true
		}
	}
	return TopicConfig{}, false
}
