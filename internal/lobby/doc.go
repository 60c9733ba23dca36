// Package lobby maintains the set of active game lobbies.
// Each lobby is built from a host's announcement and kept as a preserialized
// response, ready to be sent to querying clients until the host leaves or
// times out.
package lobby
