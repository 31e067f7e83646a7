// Package model defines the immutable domain values shared across the
// pipeline: call-graph snapshots, drift events, ML profiles, and the
// user-memory records.
package model

import (
	"strings"
	"time"
)

// NodeType classifies a service node in the call graph.
type NodeType string

const (
	NodeTypeService  NodeType = "service"
	NodeTypeDatabase NodeType = "database"
	NodeTypeGateway  NodeType = "gateway"
)

// IsValid reports whether the node type is one of the known values.
func (t NodeType) IsValid() bool {
	switch t {
	case NodeTypeService, NodeTypeDatabase, NodeTypeGateway:
		return true
	}
	return false
}

// InferNodeType guesses a node type from a service name. The guess is a
// hint; callers with real metadata should override it.
func InferNodeType(name string) NodeType {
	switch {
	case strings.Contains(name, "-db"):
		return NodeTypeDatabase
	case strings.Contains(name, "gateway"):
		return NodeTypeGateway
	default:
		return NodeTypeService
	}
}

// Node is one vertex of the call graph. Equality is by all three fields.
type Node struct {
	Name      string   `json:"name"`
	Namespace string   `json:"namespace"`
	NodeType  NodeType `json:"node_type"`
}

// EdgeKey identifies a directed edge within a snapshot.
type EdgeKey struct {
	Source      string
	Destination string
}

// Less orders keys lexicographically by (source, destination).
func (k EdgeKey) Less(other EdgeKey) bool {
	if k.Source != other.Source {
		return k.Source < other.Source
	}
	return k.Destination < other.Destination
}

// Edge is a directed service-to-service link with per-window health metrics.
type Edge struct {
	Source       string  `json:"source"`
	Destination  string  `json:"destination"`
	RequestCount int64   `json:"request_count"`
	ErrorCount   int64   `json:"error_count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	P99LatencyMs float64 `json:"p99_latency_ms"`
}

// Key returns the (source, destination) key of the edge.
func (e Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Destination: e.Destination}
}

// ErrorRate returns error_count / request_count, or 0 for an idle edge.
func (e Edge) ErrorRate() float64 {
	if e.RequestCount == 0 {
		return 0
	}
	return float64(e.ErrorCount) / float64(e.RequestCount)
}

// Snapshot is an immutable call-graph observation over the half-open
// window [TimestampStart, TimestampEnd). Every edge endpoint appears in
// Nodes.
type Snapshot struct {
	SnapshotID     string    `json:"snapshot_id"`
	TimestampStart time.Time `json:"timestamp_start"`
	TimestampEnd   time.Time `json:"timestamp_end"`
	Nodes          []Node    `json:"nodes"`
	Edges          []Edge    `json:"edges"`
}

// EdgeMap builds a lookup of the snapshot's edges by key.
func (s *Snapshot) EdgeMap() map[EdgeKey]Edge {
	m := make(map[EdgeKey]Edge, len(s.Edges))
	for _, e := range s.Edges {
		m[e.Key()] = e
	}
	return m
}

// Record is a single ingested request observation. Extra fields in the
// source format are dropped by the ingest adapter before they get here.
type Record struct {
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	StatusCode  int       `json:"status_code"`
	LatencyMs   float64   `json:"latency_ms"`
}
