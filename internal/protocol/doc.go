// Package protocol implements the tracker's TLV wire format.
// It provides the closed set of tracker tags, the Datagram message model,
// and encoding/decoding between datagrams and canonical byte sequences.
package protocol
