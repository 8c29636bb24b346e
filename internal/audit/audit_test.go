package audit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSink(t *testing.T) {
	var s Sink = LogSink{}
	require.NoError(t, s.Record(context.Background(), Entry{EventKey: "purchase:k"}))
	_, err := s.Find(context.Background(), "purchase:k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMongoSinkRoundTrip(t *testing.T) {
	// integration tests are opt-in. Set MONGO_URI_TEST to run them.
	uri := os.Getenv("MONGO_URI_TEST")
	if uri == "" {
		t.Skip("mongo integration disabled; set MONGO_URI_TEST to enable")
	}
	ctx := context.Background()
	s, err := NewMongoSink(ctx, uri, "mlm_audit_test")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.coll.Drop(ctx)
		_ = s.Close(ctx)
	})

	key := "purchase:" + time.Now().Format(time.RFC3339Nano)
	in := Entry{
		EventKey:    key,
		BuyerID:     3,
		GrossAmount: "8000.00",
		Currency:    "PKR",
		Policy:      "skip",
		Credits:     []CreditLine{{Level: 1, UserID: 2, Rate: "15", Amount: "1200.00"}},
		RecordedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.Record(ctx, in))
	require.NoError(t, s.Record(ctx, in))

	got, err := s.Find(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, in.Credits, got.Credits)
	assert.Equal(t, "8000.00", got.GrossAmount)

	_, err = s.Find(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
