// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package reconcile keeps local copies of remote collections consistent with
their change feeds.

A Mirror holds at most one entry per row identity. Fetch results, feed
events and write responses can arrive in any order:

	mirror := reconcile.NewRecordMirror(func(a, b models.Message) bool { return a.Date < b.Date })
	sub, err := reconcile.Follow(ctx, messages, mirror, gateway.Query{})
	defer sub.Unsubscribe()

Entries added with AddProvisional carry a "tmp-" key until Confirm swaps in
the stored row or Discard drops them.

NameSet is the names-only variant used for the visited-places map. Deletes
reload the whole set.
*/
package reconcile
