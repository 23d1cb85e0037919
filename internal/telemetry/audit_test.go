package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"community-chat-service/internal/mocks"
	"community-chat-service/internal/telemetry"
)

func TestAuditEmitterPublishesEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.chat", "community-chat-service", "test")

	publisher.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(event any) bool {
		envelope, ok := event.(telemetry.AuditEnvelope)
		return ok &&
			envelope.SchemaVersion == 1 &&
			envelope.EventType == "audit_log" &&
			envelope.Service == "community-chat-service" &&
			envelope.Payload.Text == "room joined"
	})).Return(nil).Once()

	emitter.Emit(context.Background(), "INFO", "room joined", "req-1", nil)

	publisher.AssertExpectations(t)
}

func TestAuditEmitterNilSafe(t *testing.T) {
	var emitter *telemetry.AuditEmitter
	require.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", "noop", "req-1", nil)
	})
}
