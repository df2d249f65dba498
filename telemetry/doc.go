// Package telemetry provides a client for live device telemetry streams.
//
// A [Session] owns a single streaming connection for one device. It turns transport events into a
// [Status] machine (disconnected, connecting, connected, error), decodes every inbound message with
// [Decode] and fans the result out to any number of observers registered with [Session.OnMessage],
// [Session.OnError] and [Session.OnStatusChange].
//
// The Session never retries: a dropped connection shows up as a status change and the caller decides
// whether to call [Session.Connect] again.
//
// [Attach] wraps a Session in a [Subscription], which connects on attach, disconnects on [Subscription.Detach]
// and keeps a coalesced [Snapshot] of the latest payload, the connected flag and the last error.
//
// # Thread Safety
//
// Session and Subscription are safe for concurrent use. Transport events for one connection are delivered
// from a single goroutine, in the order the transport received them. Observers are called without any
// Session lock held, but must not block: a slow observer delays every later event for that connection.
package telemetry
