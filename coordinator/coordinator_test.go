package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agenthive/agent"
	"github.com/hupe1980/agenthive/core"
	"github.com/hupe1980/agenthive/internal/testutil"
)

// newReceiver registers a started recording agent with the coordinator.
func newReceiver(t *testing.T, coord *Coordinator, id string) *testutil.Recorder {
	t.Helper()
	rec := &testutil.Recorder{}
	newReceiverFunc(t, coord, id, rec.HandleMessage)
	return rec
}

// newReceiverFunc registers a started agent that handles with fn.
func newReceiverFunc(t *testing.T, coord *Coordinator, id string, fn agent.HandlerFunc) {
	t.Helper()
	a := agent.New(id, id, fn)
	assert.NoError(t, a.Initialize())
	assert.NoError(t, a.Start())
	assert.NoError(t, coord.Register(a))
	t.Cleanup(func() { _ = a.Destroy() })
}

func TestCoordinator_RegisterAndSend(t *testing.T) {
	coord := New()
	defer func() { _ = coord.Close() }()

	rec := newReceiver(t, coord, "alpha")

	assert.NoError(t, coord.SendMessage("alpha", core.NewCommand("tester", "ping", nil)))

	assert.Eventually(t, func() bool { return rec.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ping"}, rec.Contents())

	_, ok := coord.Agent("alpha")
	assert.True(t, ok)
	assert.Equal(t, []string{"alpha"}, coord.AgentIDs())
}

func TestCoordinator_UnknownTargetIsDroppedSilently(t *testing.T) {
	coord := New()
	defer func() { _ = coord.Close() }()

	rec := newReceiver(t, coord, "alpha")

	// no error for an unknown target and routing stays healthy afterwards
	assert.NoError(t, coord.SendMessage("ghost", core.NewCommand("tester", "lost", nil)))
	assert.NoError(t, coord.SendMessage("alpha", core.NewCommand("tester", "found", nil)))

	assert.Eventually(t, func() bool { return rec.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"found"}, rec.Contents())
}

func TestCoordinator_OpsAreTotallyOrdered(t *testing.T) {
	coord := New()
	defer func() { _ = coord.Close() }()

	rec := newReceiver(t, coord, "alpha")

	// send before the unregister must deliver, send after must drop
	assert.NoError(t, coord.SendMessage("alpha", core.NewCommand("tester", "before", nil)))
	assert.NoError(t, coord.Unregister("alpha"))
	assert.NoError(t, coord.SendMessage("alpha", core.NewCommand("tester", "after", nil)))

	assert.Eventually(t, func() bool { return rec.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"before"}, rec.Contents())
}

func TestCoordinator_UnregisterUnknownAgent(t *testing.T) {
	coord := New()
	defer func() { _ = coord.Close() }()

	assert.ErrorIs(t, coord.Unregister("ghost"), ErrAgentNotFound)
}

func TestCoordinator_BroadcastExcludesOne(t *testing.T) {
	coord := New()
	defer func() { _ = coord.Close() }()

	alpha := newReceiver(t, coord, "alpha")
	beta := newReceiver(t, coord, "beta")
	gamma := newReceiver(t, coord, "gamma")

	assert.NoError(t, coord.Broadcast(core.NewNotification("beta", "announce", nil), "beta"))

	assert.Eventually(t, func() bool {
		return alpha.Count() == 1 && gamma.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, beta.Count(), "excluded agent must not receive the broadcast")
}

func TestCoordinator_PublishRoundTrip(t *testing.T) {
	coord := New()
	defer func() { _ = coord.Close() }()

	newReceiver(t, coord, "publisher")
	sub1 := newReceiver(t, coord, "sub-1")
	sub2 := newReceiver(t, coord, "sub-2")

	assert.NoError(t, coord.Subscribe("sub-1", "publisher"))
	assert.NoError(t, coord.Subscribe("sub-2", "publisher"))
	assert.ElementsMatch(t, []string{"sub-1", "sub-2"}, coord.Subscribers("publisher"))

	assert.NoError(t, coord.Publish("publisher", core.NewNotification("publisher", "update-1", nil)))

	assert.Eventually(t, func() bool {
		return sub1.Count() == 1 && sub2.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// after unsubscribing, sub-1 stays silent
	assert.NoError(t, coord.Unsubscribe("sub-1", "publisher"))
	assert.NoError(t, coord.Publish("publisher", core.NewNotification("publisher", "update-2", nil)))

	assert.Eventually(t, func() bool { return sub2.Count() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"update-1"}, sub1.Contents())
}

func TestCoordinator_SubscribeIsIdempotent(t *testing.T) {
	coord := New()
	defer func() { _ = coord.Close() }()

	newReceiver(t, coord, "publisher")
	sub := newReceiver(t, coord, "sub-1")

	assert.NoError(t, coord.Subscribe("sub-1", "publisher"))
	assert.NoError(t, coord.Subscribe("sub-1", "publisher"))

	assert.NoError(t, coord.Publish("publisher", core.NewNotification("publisher", "once", nil)))

	assert.Eventually(t, func() bool { return sub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sub.Count(), "double subscription must deliver exactly once")
}

func TestCoordinator_SubscribeRequiresRegisteredSubscriber(t *testing.T) {
	coord := New()
	defer func() { _ = coord.Close() }()

	newReceiver(t, coord, "publisher")

	assert.ErrorIs(t, coord.Subscribe("ghost", "publisher"), ErrAgentNotFound)
}

func TestCoordinator_UnsubscribeUnknownPairIsNoOp(t *testing.T) {
	coord := New()
	defer func() { _ = coord.Close() }()

	assert.NoError(t, coord.Unsubscribe("nobody", "nothing"))
}

func TestCoordinator_PublishWithoutSubscribersIsSilent(t *testing.T) {
	coord := New()
	defer func() { _ = coord.Close() }()

	lonely := newReceiver(t, coord, "lonely")

	assert.NoError(t, coord.Publish("lonely", core.NewNotification("lonely", "anyone?", nil)))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, lonely.Count(), "publisher must not receive its own publication")
}

func TestCoordinator_UnregisterDropsOwnSubscriptions(t *testing.T) {
	coord := New()
	defer func() { _ = coord.Close() }()

	newReceiver(t, coord, "publisher")
	sub := newReceiver(t, coord, "sub-1")
	assert.NoError(t, coord.Subscribe("sub-1", "publisher"))

	assert.NoError(t, coord.Unregister("sub-1"))
	assert.Empty(t, coord.Subscribers("publisher"))

	assert.NoError(t, coord.Publish("publisher", core.NewNotification("publisher", "gone", nil)))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sub.Count())
}

func TestCoordinator_CloseIdempotentAndTerminal(t *testing.T) {
	coord := New()

	assert.NoError(t, coord.Close())
	assert.NoError(t, coord.Close())

	rec := &testutil.Recorder{}
	a := agent.New("late", "late", rec)
	defer func() { _ = a.Destroy() }()

	assert.ErrorIs(t, coord.Register(a), ErrCoordinatorClosed)
	assert.ErrorIs(t, coord.SendMessage("late", core.NewCommand("tester", "ping", nil)), ErrCoordinatorClosed)
	assert.ErrorIs(t, coord.Broadcast(core.NewCommand("tester", "ping", nil), ""), ErrCoordinatorClosed)
	assert.ErrorIs(t, coord.Publish("late", core.NewCommand("tester", "ping", nil)), ErrCoordinatorClosed)
	assert.ErrorIs(t, coord.Subscribe("a", "b"), ErrCoordinatorClosed)
	assert.ErrorIs(t, coord.Unsubscribe("a", "b"), ErrCoordinatorClosed)
	assert.ErrorIs(t, coord.Unregister("a"), ErrCoordinatorClosed)
}

func TestCoordinator_CloseDrainsPendingDispatches(t *testing.T) {
	coord := New()

	rec := newReceiver(t, coord, "alpha")

	for i := 0; i < 10; i++ {
		assert.NoError(t, coord.SendMessage("alpha", core.NewCommand("tester", "burst", nil)))
	}
	assert.NoError(t, coord.Close())

	// everything enqueued before Close must have reached the agent queue
	assert.Eventually(t, func() bool { return rec.Count() == 10 }, 2*time.Second, 10*time.Millisecond)
}
