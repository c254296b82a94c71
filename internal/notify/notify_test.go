package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	name string
	err  error
	got  []Message
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Send(ctx context.Context, msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, msg)
	return nil
}

func TestFanout_FailureDoesNotBlockOthers(t *testing.T) {
	broken := &fakeNotifier{name: "broken", err: errors.New("unreachable")}
	working := &fakeNotifier{name: "working"}

	f := NewFanout(nil, broken, working)
	delivered := f.Send(context.Background(), Message{PlanID: "plan-1", UserImpact: "ZERO"})

	assert.Equal(t, 1, delivered)
	require.Len(t, working.got, 1)
	assert.Equal(t, "plan-1", working.got[0].PlanID)
	assert.False(t, working.got[0].SentAt.IsZero())
}

func TestFanout_NoChannels(t *testing.T) {
	f := NewFanout(nil)
	assert.Equal(t, 0, f.Send(context.Background(), Message{PlanID: "plan-1"}))
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(nil)
	assert.Equal(t, "log", n.Name())
	assert.NoError(t, n.Send(context.Background(), Message{PlanID: "plan-1"}))
}

func startNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	go srv.Start()
	require.True(t, srv.ReadyForConnections(5*time.Second))
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestNATSNotifier(t *testing.T) {
	srv := startNATS(t)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	inbox, err := sub.SubscribeSync("orchestd.recovery")
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	n, err := NewNATSNotifier(srv.ClientURL(), "orchestd.recovery", "")
	require.NoError(t, err)
	defer n.Close()
	assert.Equal(t, "nats", n.Name())

	want := Message{
		PlanID:          "plan-1",
		FailedStep:      "production_deploy_canary",
		RecoveryOutcome: "restored",
		UserImpact:      "ZERO",
		RootCause:       "container startup failure",
		NextAction:      "fix the image entrypoint and redeploy",
		SentAt:          time.Now().UTC(),
	}
	require.NoError(t, n.Send(context.Background(), want))

	raw, err := inbox.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var got Message
	require.NoError(t, json.Unmarshal(raw.Data, &got))
	assert.Equal(t, want.PlanID, got.PlanID)
	assert.Equal(t, want.UserImpact, got.UserImpact)
	assert.Equal(t, want.RootCause, got.RootCause)
}
