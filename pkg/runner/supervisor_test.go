package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

type fakeAppender struct {
	events []contracts.Event
}

func (f *fakeAppender) Append(groupID string, kind contracts.Kind, by, scopeKey string, data interface{}) (contracts.Event, error) {
	evt, err := contracts.NewEvent(kind, groupID, scopeKey, by, data)
	if err != nil {
		return contracts.Event{}, err
	}
	f.events = append(f.events, evt)
	return evt, nil
}

func TestHeadlessRunnerLifecycle(t *testing.T) {
	r := NewHeadlessRunner("peer-1")
	assert.Equal(t, StateStopped, r.Status().Lifecycle)

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, StateRunning, r.Status().Lifecycle)
	assert.Equal(t, HeadlessOnline, r.Status().Headless)

	assert.ErrorIs(t, r.Inject(context.Background(), "hi"), ErrNotInjectable)

	require.NoError(t, r.Stop(context.Background(), time.Second))
	assert.Equal(t, StateStopped, r.Status().Lifecycle)
}

func TestSupervisorRegisterAndHeadlessLifecycleEmitsEvents(t *testing.T) {
	dir := t.TempDir()
	appender := &fakeAppender{}
	sup := New(dir, appender)

	require.NoError(t, sup.Register("g1", contracts.ActorAdd{
		ActorID: "peer-1", Role: contracts.RolePeer, Runner: contracts.RunnerHeadless, Enabled: true,
	}))

	require.NoError(t, sup.Start(context.Background(), "g1", "peer-1", "user"))
	status, ok := sup.Status("g1", "peer-1")
	require.True(t, ok)
	assert.Equal(t, StateRunning, status.Lifecycle)

	require.NoError(t, sup.Stop(context.Background(), "g1", "peer-1", "user", "manual stop"))
	status, _ = sup.Status("g1", "peer-1")
	assert.Equal(t, StateStopped, status.Lifecycle)

	require.Len(t, appender.events, 2)
	assert.Equal(t, contracts.KindActorStart, appender.events[0].Kind)
	assert.Equal(t, contracts.KindActorStop, appender.events[1].Kind)
}

func TestSupervisorStartUnknownActorFails(t *testing.T) {
	sup := New(t.TempDir(), &fakeAppender{})
	err := sup.Start(context.Background(), "g1", "ghost", "user")
	require.Error(t, err)
	assert.Equal(t, contracts.CodeNoSuchActor, contracts.ErrCode(err))
}

func TestRingBufferTailKeepsMostRecentBytes(t *testing.T) {
	rb := newRingBuffer(8)
	rb.Write([]byte("0123456789"))
	assert.Equal(t, "23456789", string(rb.Tail(8)))
	assert.Equal(t, "6789", string(rb.Tail(4)))
}
