// Package pubsub implements the durable publish kit: one producer emits an
// ordered sequence of updates that ends in exactly one terminal success or
// failure, and any number of consumers follow it with independent cursors.
//
// The kit is a "latest + wait" primitive, not a replay log. Only the newest
// update is retained, so a slow consumer may skip intermediate values but is
// guaranteed to observe the terminal update.
//
// # Durability
//
// Every producer call commits the whole State to a baggage.Store before it
// returns and before any subscriber is woken. A kit in memory is nothing more
// than a cache of its committed record; after a restart Maker.Revive rebuilds
// it from the record alone.
//
// A kind is prepared once per open store, so every caller sharing the store
// shares its live kits. Commits are conditional on the record the kit last
// saw: a kit that falls behind another writer of the same records (another
// process on the same SQLite file, say) reloads the record and applies the
// call to it, so Sequence never goes backwards and a terminated kit stays
// terminated.
//
// # Facets
//
// Producers and consumers never see the kit itself. Publisher and Subscriber
// are small handles holding only a pointer to the kit, suitable for handing to
// other components:
//
//	maker := pubsub.Prepare[string](store, "DurablePublishKit")
//	kit, err := maker.Make(ctx)
//	if err != nil {
//		return err
//	}
//	pub, sub := kit.Publisher(), kit.Subscriber()
//
//	_ = pub.Publish(ctx, "a")
//	_ = pub.Publish(ctx, "b")
//	u, _ := sub.GetUpdateSince(ctx, 0) // {Value: "b", UpdateCount: 2}
//	_ = pub.Finish(ctx, "done")
//	u, _ = sub.GetUpdateSince(ctx, u.UpdateCount) // {Value: "done", Done: true}
//
// Consumers that want a loop use a Cursor, Updates or Observe.
package pubsub
