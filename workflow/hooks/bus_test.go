package hooks_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/strands-workflow/workflow/hooks"
)

func TestBusPublishesInSubscriptionOrder(t *testing.T) {
	bus := hooks.NewBus()

	var mu sync.Mutex
	var order []int

	for i := 0; i < 3; i++ {
		i := i
		_, err := bus.Register(hooks.SubscriberFunc(func(ctx context.Context, evt hooks.Event) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
		require.NoError(t, err)
	}

	err := bus.Publish(context.Background(), hooks.New(hooks.WorkflowStart, "sess-1", "demo", "chain", nil))
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestBusJoinsSubscriberErrorsButRunsAll(t *testing.T) {
	bus := hooks.NewBus()

	var called int
	_, err := bus.Register(hooks.SubscriberFunc(func(ctx context.Context, evt hooks.Event) error {
		called++
		return errors.New("first subscriber failed")
	}))
	require.NoError(t, err)
	_, err = bus.Register(hooks.SubscriberFunc(func(ctx context.Context, evt hooks.Event) error {
		called++
		return nil
	}))
	require.NoError(t, err)

	err = bus.Publish(context.Background(), hooks.New(hooks.StepComplete, "sess-1", "demo", "chain", nil))
	require.Error(t, err)
	require.Equal(t, 2, called)
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	bus := hooks.NewBus()

	var called int
	sub, err := bus.Register(hooks.SubscriberFunc(func(ctx context.Context, evt hooks.Event) error {
		called++
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), hooks.New(hooks.StepStart, "s", "w", "chain", nil)))
	require.Equal(t, 1, called)

	require.NoError(t, sub.Close())

	require.NoError(t, bus.Publish(context.Background(), hooks.New(hooks.StepStart, "s", "w", "chain", nil)))
	require.Equal(t, 1, called)
}
