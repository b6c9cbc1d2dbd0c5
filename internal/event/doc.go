/*
Package event provides a type-safe, pub/sub diagnostics bus for the
reconciliation core.

Unlike the Entity Store (the canonical source of truth for sessions,
messages, and parts), this bus carries only notifications: that a batch
was applied and which sessions it touched, that the ordering buffer had
to force-release or drop an event, that a retry sequence recovered or
exhausted, and that a permission or question request was raised. A
StoreView-style observer subscribes here instead of polling the store.

Each Core owns its own Bus rather than sharing one process-wide
singleton, so that two Cores running in the same process never
cross-deliver each other's diagnostics.

# Architecture

The package is built on top of watermill's gochannel for infrastructure
while maintaining direct-call semantics to preserve type information. It
provides both synchronous and asynchronous publishing patterns.

# Event Types

  - store.changed: a coalesced batch and its reconciliation consequences were applied
  - ordering.timeout: the ordering buffer force-released a timed-out gap
  - queue.overflow: the ordering buffer dropped the oldest queued event, or the coalescer's full queue dropped an incoming one
  - retry.recovered / retry.exhausted: a session went from `retry` to `idle`, with or without error
  - permission.asked / question.asked: a new ancillary request is pending

# Basic Usage

	bus := event.NewBus()
	defer bus.Close()

	unsubscribe := bus.Subscribe(event.StoreChanged, func(e event.Event) {
		data := e.Data.(event.StoreChangedData)
		log.Info("store changed", "sessions", data.SessionIDs)
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

When using PublishSync, subscribers run synchronously in the publisher's
goroutine. Subscribers must complete quickly and must never call
Publish/PublishSync re-entrantly. A subscriber that panics is recovered
and logged; it never takes down the publisher or the other subscribers.

# Thread Safety

The event bus is safe for concurrent use by multiple goroutines.
*/
package event
