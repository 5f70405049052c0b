package qos

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// profileDoc mirrors the simplified YAML keys of §6.5. Unknown fields are
// ignored by yaml.v2's default behavior, matching "unknown fields
// ignored" in §6.5.
type profileDoc struct {
	Reliability       string   `yaml:"reliability"`
	Durability        string   `yaml:"durability"`
	History           string   `yaml:"history"`
	HistoryDepth      int      `yaml:"history_depth"`
	DeadlineMs        int      `yaml:"deadline_ms"`
	LifespanMs        int      `yaml:"lifespan_ms"`
	TransportPriority int      `yaml:"transport_priority"`
	LatencyBudgetMs   int      `yaml:"latency_budget_ms"`
	TimeBasedFilterMs int      `yaml:"time_based_filter_ms"`
	Partition         []string `yaml:"partition"`
}

// Document is a named set of profiles as registered in a single QoS
// profile file (§6.5): "unknown fields ignored; parse error preserves
// previous document".
type Document map[string]Policy

// ParseDocument parses the raw YAML bytes of a QoS profile file into a
// Document keyed by profile name.
func ParseDocument(data []byte) (Document, error) {
	var raw map[string]profileDoc
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("qos: parse profile document: %w", err)
	}

	doc := make(Document, len(raw))
	for name, pd := range raw {
		doc[name] = fromProfileDoc(pd)
	}
	return doc, nil
}

func fromProfileDoc(pd profileDoc) Policy {
	p := Default()

	switch pd.Reliability {
	case "reliable":
		p.Reliability = Reliable
	case "best_effort", "":
		p.Reliability = BestEffort
	}

	switch pd.Durability {
	case "transient_local":
		p.Durability = TransientLocal
	case "persistent":
		p.Durability = Persistent
	case "volatile", "":
		p.Durability = Volatile
	}

	switch pd.History {
	case "keep_all":
		p.History = History{KeepAll: true}
	default:
		depth := pd.HistoryDepth
		if depth <= 0 {
			depth = 1
		}
		p.History = History{Depth: depth}
	}

	p.Deadline = time.Duration(pd.DeadlineMs) * time.Millisecond
	p.Lifespan = time.Duration(pd.LifespanMs) * time.Millisecond
	p.TransportPriority = pd.TransportPriority
	p.LatencyBudget = time.Duration(pd.LatencyBudgetMs) * time.Millisecond
	p.TimeBasedFilter = time.Duration(pd.TimeBasedFilterMs) * time.Millisecond
	p.Partition = pd.Partition

	return p
}

// LoadDocumentFile reads and parses a QoS profile YAML file from disk.
func LoadDocumentFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("qos: read profile file %s: %w", path, err)
	}
	return ParseDocument(data)
}
