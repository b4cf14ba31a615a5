/*
Package events provides an in-memory, non-blocking pub/sub broker.

A Broker fans every Published Event out to all current Subscribers over
buffered channels; a slow or absent subscriber never blocks Publish. The
storage-unit dispatcher (pkg/sums) is the main publisher: it reports session
open/close, slot allocation, commit, and archive submission as Events so a
subscriber can observe storage-unit activity without being coupled to the
dispatcher's internals. cmd/drmsd creates and starts the Broker it hands to
the dispatcher but subscribes nothing to it.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for ev := range sub {
		log.Printf("%s: %s", ev.Type, ev.Message)
	}
*/
package events
