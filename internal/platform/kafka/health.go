// Package kafka holds the Kafka plumbing shared by the receipt server and the
// event-log sink.
package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// HealthChecker asks the cluster for its broker list.
type HealthChecker struct {
	client *kgo.Client
	admin  *kadm.Client
}

// NewHealthChecker creates a metadata-only client for brokers, a
// comma-separated seed list.
func NewHealthChecker(brokers string) (*HealthChecker, error) {
	seeds := SplitBrokers(brokers)
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	client, err := kgo.NewClient(kgo.SeedBrokers(seeds...))
	if err != nil {
		return nil, fmt.Errorf("create kafka health client: %w", err)
	}
	return &HealthChecker{client: client, admin: kadm.NewClient(client)}, nil
}

// Check returns nil when the cluster answers a metadata request with at
// least one broker.
func (h *HealthChecker) Check(ctx context.Context) error {
	md, err := h.admin.BrokerMetadata(ctx)
	if err != nil {
		return fmt.Errorf("kafka metadata: %w", err)
	}
	if len(md.Brokers) == 0 {
		return fmt.Errorf("kafka cluster reported no brokers")
	}
	return nil
}

func (h *HealthChecker) Close() {
	h.client.Close()
}

// SplitBrokers parses a comma-separated broker list, dropping blanks.
func SplitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
