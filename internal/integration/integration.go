// Package integration holds the adapters at the edge of the pipeline:
// record ingestion, outbound notification sinks, realtime publishing,
// and policy rendering. The core only sees the interfaces defined here.
package integration

import (
	"context"

	"github.com/meshdrift/meshdrift/internal/model"
)

// Ingestor supplies raw request records for one source reference. The
// format behind the reference is an adapter concern.
type Ingestor interface {
	Ingest(ctx context.Context, sourceRef string) ([]model.Record, error)
}

// Notifier delivers one explain card to an external sink. Delivery is
// best-effort; the pipeline retries at the task level only.
type Notifier interface {
	Name() string
	Send(ctx context.Context, tenantID string, card model.ExplainCard) error
}

// Publisher fans a payload out to subscribers of a topic. Publishing to
// a topic with no subscribers is a no-op, never an error.
type Publisher interface {
	Publish(topic string, payload []byte)
}

// PolicyRenderer turns a high-severity card into an optional policy
// document. An empty result means the card yields no policy.
type PolicyRenderer interface {
	Render(card model.ExplainCard) ([]byte, error)
}

// DriftTopic names the per-tenant realtime topic.
func DriftTopic(tenantID string) string {
	return "drift_events:" + tenantID
}
