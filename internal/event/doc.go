// Package event provides the publish/subscribe fabric that carries
// process lifecycle notifications through procbus.
//
// Events are published to hierarchical dot-separated topics such as
// "proc.spawned" or "proc.exited". Subscriptions are registered against a
// topic pattern, which may use "*" to match exactly one segment or "**" to
// match zero or more:
//
//	bus := event.NewBus()
//	bus.Start()
//	defer bus.Stop(context.Background())
//
//	sub, _ := bus.SubscribeFunc("proc.*", func(ctx context.Context, e event.Event) error {
//		...
//		return nil
//	})
//	defer bus.Unsubscribe(sub)
//
//	bus.Publish(ctx, event.New("proc.spawned", payload, "launcher"))
//
// Delivery mode is chosen per subscription. DeliverySync handlers run in
// the publisher's goroutine; DeliveryAsync handlers run on a bounded worker
// pool and may be dropped under sustained overload (see Stats). Publishers
// that need every handler to have observed an event before continuing use
// PublishSync, which forces inline delivery for that publish.
//
// Handler panics are recovered and counted; a PanicHandler installed via
// WithPanicHandler receives the recovered value and stack.
package event
