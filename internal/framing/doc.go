// Package framing converts an arbitrarily chunked byte stream into a
// sequence of complete, fixed-size packet slices. It locates packet
// boundaries by the magic marker, tolerates fragmentation and stream
// corruption, and bounds memory growth under sustained garbage input.
package framing
