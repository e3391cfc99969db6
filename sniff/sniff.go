// Package sniff implements the layer-7 hostname sniffers used by the
// public-ingress dispatcher to steer shared HTTP/HTTPS/Minecraft ports to
// the right tunnel, without terminating or altering the underlying
// protocol.
package sniff

// MaxBufferBytes is the ingress-enforced cap on how much of a stream a
// sniffer is ever fed before the caller gives up and drops the connection.
const MaxBufferBytes = 8 * 1024

// Sniffer is the shape every layer-7 sniffer in this package implements.
// Feed appends bytes to an internal buffer; Extract returns the routing
// key once the prefix is parseable, caching it for subsequent calls;
// ConsumedBytes returns everything fed so far, which the ingress dispatcher
// must replay to the tunnel before the live pump starts.
type Sniffer interface {
	Feed(data []byte)
	Extract() (string, bool)
	ConsumedBytes() []byte
}
