package kafkasink

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klarogeo/internal/consent/models"
	"klarogeo/internal/datalayer"
	"klarogeo/internal/platform/kafka/producer"
)

type recordingPublisher struct {
	messages []*producer.Message
}

func (p *recordingPublisher) ProduceAsync(msg *producer.Message) error {
	p.messages = append(p.messages, msg)
	return nil
}

func TestSinkForwardsInLogOrder(t *testing.T) {
	pub := &recordingPublisher{}
	log := datalayer.NewLog()
	queue := datalayer.NewQueue(log, nil)
	New(pub, "", "session-1", nil).Attach(log)

	queue.Push(datalayer.NewEvent("page_view", map[string]any{"path": "/"}))
	require.Empty(t, pub.messages)

	queue.Push(datalayer.NewEvent(models.EventConsentUpdate, nil))
	require.Len(t, pub.messages, 3)

	keys := []string{}
	for _, m := range pub.messages {
		assert.Equal(t, producer.DefaultTopic, m.Topic)
		assert.Equal(t, "session-1", m.Headers["session"])
		keys = append(keys, string(m.Key))
	}
	assert.Equal(t, []string{models.EventConsentUpdate, "page_view", models.EventQueueFlushed}, keys)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(pub.messages[1].Value, &decoded))
	assert.Equal(t, "/", decoded["path"])
}

func TestSinkSkipsUnencodableEvents(t *testing.T) {
	pub := &recordingPublisher{}
	log := datalayer.NewLog()
	New(pub, "topic", "", nil).Attach(log)

	log.Append(datalayer.Event{"event": "bad", "fn": func() {}})
	log.Append(datalayer.Event{"event": "good"})

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "good", string(pub.messages[0].Key))
	assert.Nil(t, pub.messages[0].Headers)
}
