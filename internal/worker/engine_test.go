package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/erpsync/internal/config"
	"github.com/Additional-Code/erpsync/internal/messaging"
)

type feedClient struct {
	messaging.Client
	messages []messaging.Message
}

func (f *feedClient) Consume(ctx context.Context, handler messaging.Handler) error {
	for _, msg := range f.messages {
		_ = handler(ctx, msg)
	}
	<-ctx.Done()
	return ctx.Err()
}

func enabledConfig() config.Config {
	return config.Config{Messaging: config.Messaging{
		Enabled: true,
		Workers: config.Worker{Enabled: true, Concurrency: 1},
	}}
}

func TestEngineDispatchesByTopic(t *testing.T) {
	got := make(chan string, 2)
	client := &feedClient{messages: []messaging.Message{
		{Topic: "erp.orders.pending", Value: []byte("SO-1")},
		{Topic: "unknown", Value: []byte("SO-2")},
	}}
	engine := NewEngine(Params{
		Client: client,
		Logger: zap.NewNop(),
		Config: enabledConfig(),
		Registrations: []HandlerRegistration{{
			Topic: "erp.orders.pending",
			Handler: func(_ context.Context, msg messaging.Message) error {
				got <- string(msg.Value)
				return nil
			},
		}},
	})

	require.NoError(t, engine.Start(context.Background()))
	select {
	case v := <-got:
		require.Equal(t, "SO-1", v)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	require.NoError(t, engine.Stop(context.Background()))
	require.Empty(t, got)
}

func TestEngineRunsJobsWithoutMessaging(t *testing.T) {
	runs := make(chan struct{}, 10)
	cfg := enabledConfig()
	cfg.Messaging.Enabled = false

	engine := NewEngine(Params{
		Logger: zap.NewNop(),
		Config: cfg,
		Jobs: []Job{
			{Name: "tick", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
				runs <- struct{}{}
				return nil
			}},
			{Name: "no-interval", Run: func(context.Context) error {
				t.Error("job without interval must not run")
				return nil
			}},
		},
	})

	require.NoError(t, engine.Start(context.Background()))
	for i := 0; i < 2; i++ {
		select {
		case <-runs:
		case <-time.After(time.Second):
			t.Fatal("job did not run")
		}
	}
	require.NoError(t, engine.Stop(context.Background()))
}

func TestEngineDisabled(t *testing.T) {
	engine := NewEngine(Params{
		Logger: zap.NewNop(),
		Config: config.Config{},
		Jobs: []Job{{Name: "tick", Interval: time.Millisecond, Run: func(context.Context) error {
			t.Error("disabled engine ran a job")
			return nil
		}}},
	})
	require.NoError(t, engine.Start(context.Background()))
	require.NoError(t, engine.Stop(context.Background()))
}
