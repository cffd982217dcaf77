/*
Package tally is a client-side telemetry SDK.

# Overview

Application code tracks named events with properties. tally buffers them in
a bounded local store, sends them to the collector in batches and keeps
them when delivery fails for a reason that may go away. It also serves the
experiment variants the server assigned to the current user from a local
cache.

A Client is an ordinary value owned by the host program. Create one at
startup, pass it where it is needed and shut it down on exit:

	client, err := tally.New(
	    tally.WithAPIKey(os.Getenv("TALLY_API_KEY")),
	    tally.WithAppVersion("2.4.0", "412"),
	)
	if err != nil {
	    log.Fatal(err)
	}
	defer client.Shutdown(context.Background())

	client.Track("checkout_started", map[string]any{"cart_size": 3})

Track never blocks on the network and never returns an error. Invalid
event names are logged and dropped.

# Delivery

Events are flushed every 30 seconds, whenever the store holds a full batch
and when the host reports the app moved to the background. Each batch ends
in one of three ways:
  - Success: the collector accepted it and it is removed.
  - DropEvents: it can never be accepted (malformed, unauthorized) and is removed.
  - RetryLater: it is kept and the flush stops, so newer events never overtake it.

Flush requests issued while a flush is running join it instead of
starting another one. Use FlushWait to block until the store is drained
or delivery is deferred.

# Properties

Every event carries three layers of properties. Later layers win:
  - super properties set with SetSuperProperty, persisted across restarts
  - properties passed to Track
  - system properties describing the device and app

# Identity and Experiments

Events are attributed to the identified user, or to a persistent anonymous
id before Identify is called. Changing the identified user discards the
cached experiment assignments and fetches the new user's:

	client.Identify("user-42", &tally.Profile{Email: "ada@example.com"})

	if err := client.Ready(ctx); err == nil {
	    if v, ok := client.Variant("new_checkout"); ok && v == "treatment" {
	        // ...
	    }
	}

Reading a variant also records it as the super property
experiment_<snake_case_id>, so later events can be attributed to the
assignment.

# Persistence

By default everything lives in memory. WithStorage selects a directory
backed store: StorageFile keeps an atomically replaced JSON snapshot and
StorageSQLite a SQLite database. Custom implementations of store.Store and
settings.Store can be passed with WithEventStore and WithSettingsStore.

# Observability

Pass WithLogger for structured logs. WithMetrics and WithTracing enable
OpenTelemetry instruments and spans using the global providers.
*/
package tally
