package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kafkaconsumer "certledger/internal/platform/kafka/consumer"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/platform/audit/store/memory"
)

func TestMaterializer(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	m := NewMaterializer(store, slog.Default())

	payload, err := json.Marshal(audit.Event{
		ID:          "0b6c7f7e-5a4e-4a50-8d0e-6b0f2f1b9a11",
		Category:    audit.CategorySecurity,
		InstituteID: "I1",
		Subject:     "S100",
		Action:      string(audit.EventSagaInconsistent),
	})
	require.NoError(t, err)
	msg := &kafkaconsumer.Message{Topic: "audit", Value: payload}

	t.Run("redelivery is idempotent", func(t *testing.T) {
		require.NoError(t, m.Handle(ctx, msg))
		require.NoError(t, m.Handle(ctx, msg))

		events, err := store.ListByInstitute(ctx, "I1")
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("malformed payload is skipped", func(t *testing.T) {
		assert.NoError(t, m.Handle(ctx, &kafkaconsumer.Message{Topic: "audit", Value: []byte("{")}))
	})
}
