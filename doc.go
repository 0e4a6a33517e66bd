// Package redisipc provides request/response inter-process communication
// between independent application instances ("groups") over a shared Redis
// stream with consumer-group semantics.
//
// A group publishes a request entry targeting another group; a consumer inside
// the target group receives the entry, produces a reply (fulfilled or
// rejected), and the original caller unblocks with that reply. Multiple
// instances per group, multiple groups per stream, and interleaved requests
// are all supported.
//
// Layers & Roles
//
//	Stream     -> lifecycle facade; owns the Redis client, ledger, and pools
//	Dispatcher -> routes unread stream entries to the least-busy consumer
//	Consumer   -> drains its own pending-entry list and classifies each entry
//	Ledger     -> local correlation table from request ids to waiting mailboxes
//
// # Delivery semantics
//
// Delivery is at-least-once with caller-side deduplication: each outstanding
// request owns a single-assignment mailbox, so redundant replies (possible
// when a dispatcher reclaims an entry another consumer already finalized) are
// dropped silently. Pending calls are not persisted; they are lost if the
// calling process terminates.
//
// # Trust model
//
// The stream is assumed to live on a trusted Redis deployment. Entries are
// neither authenticated nor encrypted.
//
// A minimal round trip:
//
//	child := redisipc.New("orders", "billing")
//	child.OnRequest(func(ctx context.Context, e redisipc.Entry) error {
//		return child.FulfillRequest(ctx, e, "charged")
//	})
//	child.OnError(func(err error) { log.Print(err) })
//	if err := child.Connect(ctx, redisipc.Config{}); err != nil {
//		log.Fatal(err)
//	}
//	defer child.Disconnect()
//
//	resp, err := parent.SendToGroup(ctx, "charge order 42", "billing")
//	if err == nil && resp.Fulfilled() {
//		fmt.Println(resp.Value()) // "charged"
//	}
package redisipc
