package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"chatwithcode/internal/config"
	"chatwithcode/pkg/events"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestDisabledProducerIsNop(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Enabled: false})
	assert.NoError(t, p.Publish(events.New(events.TypeQARecorded, "demo", nil)))
	_, ok := p.(*Producer)
	assert.False(t, ok)
}

func TestPublishEncodesEvent(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, timeout: time.Second}

	err := p.Publish(events.New(events.TypeIndexCompleted, "demo", events.IndexCompleted{URL: "https://github.com/a/b", Chunks: 3}))
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "demo", string(w.msgs[0].Key))
	assert.Equal(t, "index.completed", string(w.msgs[0].Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "index.completed", decoded["type"])
	assert.EqualValues(t, 3, decoded["payload"].(map[string]any)["chunks"])
}
