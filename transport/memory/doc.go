// Package memory is an in-process implementation of the transport
// capability interface.
//
// A Bus plays the role of the provider's participant factory. Participants
// created on the same Bus and domain id see each other's writers: samples
// written on a topic are delivered to every reader of that topic (or of a
// content-filtered topic over it), instance state follows writes, disposals
// and writer deletion, and the builtin publication reader of each
// participant announces the writers of the other participants.
//
// Listener notifications run on a keyed worker pool, one key per reader,
// so each reader sees its notifications in order while different readers
// are notified concurrently.
//
// A Link bridges a Bus to other processes: every local write, disposal,
// unregistration and publication is handed to the link, and the link feeds
// remote traffic back through Deliver, AddPublication and
// RemovePublication. The natsbus package is such a link.
package memory
