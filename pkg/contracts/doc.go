// Package contracts defines the versioned, validated data shapes shared by
// every other component of the daemon: the event envelope, the closed set of
// event kinds, group/actor/scope records, the chat message payload, and the
// stable error taxonomy surfaced over IPC. This package has no behavior of
// its own beyond validation — it does not touch disk, a socket, or a child
// process.
package contracts
