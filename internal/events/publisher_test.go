package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/straye-as/pipeline-engine/internal/auth"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/straye-as/pipeline-engine/internal/events"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaPublisher_Trigger(t *testing.T) {
	writer := &fakeWriter{}
	pub := events.NewKafkaPublisherWithWriter(writer, "crm.workflow.triggers", zap.NewNop())

	tenantID := uuid.New()
	userID := uuid.New()
	ctx := auth.WithUserContext(context.Background(), &auth.UserContext{UserID: userID, TenantID: tenantID})
	oppID := uuid.New()

	err := pub.Trigger(ctx, domain.OpportunityRef(oppID), "opportunity.won", map[string]string{"stage": "Closed Won"})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, tenantID.String()+":"+oppID.String(), string(msg.Key))
	assert.Equal(t, "opportunity.won", header(msg, "event"))
	assert.Equal(t, "opportunity", header(msg, "entity_type"))

	var evt events.WorkflowEvent
	require.NoError(t, json.Unmarshal(msg.Value, &evt))
	assert.Equal(t, "opportunity.won", evt.Event)
	assert.Equal(t, oppID, evt.EntityID)
	require.NotNil(t, evt.ActorID)
	assert.Equal(t, userID, *evt.ActorID)
	assert.JSONEq(t, `{"stage":"Closed Won"}`, string(evt.Payload))

	require.NoError(t, pub.Close())
	assert.True(t, writer.closed)
}

func TestKafkaPublisher_WriteFailureIsReturned(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker down")}
	pub := events.NewKafkaPublisherWithWriter(writer, "topic", zap.NewNop())

	err := pub.Trigger(context.Background(), domain.LeadRef(uuid.New()), "lead.converted", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestLogTrigger_NeverFails(t *testing.T) {
	trigger := events.NewLogTrigger(zap.NewNop())
	assert.NoError(t, trigger.Trigger(context.Background(), domain.ContactRef(uuid.New()), "anything", nil))
}
