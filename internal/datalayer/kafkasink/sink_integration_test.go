//go:build integration

package kafkasink_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klarogeo/internal/datalayer"
	"klarogeo/internal/datalayer/kafkasink"
	"klarogeo/internal/platform/kafka"
	"klarogeo/internal/platform/kafka/producer"
	"klarogeo/internal/platform/logger"
	"klarogeo/pkg/testutil/containers"
)

func TestSinkPublishesLogInOrder(t *testing.T) {
	kc := containers.GetManager().GetKafka(t)
	ctx := context.Background()
	topic := "klaro_geo.datalayer.events.it"
	require.NoError(t, kc.CreateTopic(ctx, topic, 1, 1))
	hc, err := kafka.NewHealthChecker(kc.Brokers)
	require.NoError(t, err)
	defer hc.Close()
	require.NoError(t, hc.Check(ctx))

	cfg := producer.DefaultConfig()
	cfg.Brokers = kc.Brokers
	prod, err := producer.New(cfg, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, prod.Health(ctx))

	log := datalayer.NewLog()
	detach := kafkasink.New(prod, topic, "session-1", logger.Discard()).Attach(log)
	log.Append(datalayer.NewEvent("klaro_geo_consent_mode_update", map[string]any{"analytics_storage": "granted"}))
	log.Append(datalayer.NewEvent("page_view", nil))
	log.Append(datalayer.NewEvent("klaro_geo_queue_flushed", map[string]any{"count": 1}))
	detach()
	require.NoError(t, prod.Close())

	consumer, err := kc.NewConsumer("kafkasink-it", topic)
	require.NoError(t, err)
	defer consumer.Close()

	records := kc.Collect(ctx, consumer, 3, 30*time.Second)
	require.Len(t, records, 3)
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = string(r.Key)
		require.Len(t, r.Headers, 1)
		assert.Equal(t, "session", r.Headers[0].Key)
		assert.Equal(t, "session-1", string(r.Headers[0].Value))
	}
	assert.Equal(t, []string{"klaro_geo_consent_mode_update", "page_view", "klaro_geo_queue_flushed"}, keys)

	var first map[string]any
	require.NoError(t, json.Unmarshal(records[0].Value, &first))
	assert.Equal(t, "granted", first["analytics_storage"])
}
