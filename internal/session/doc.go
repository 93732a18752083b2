// Package session drives one instrument connection end to end.
//
// A Controller reads raw chunks from a transport.Connection, feeds them
// through the framing accumulator, decodes every complete packet and
// dispatches it to registered callbacks in stream order. A single
// receive goroutine owns the pipeline; callbacks run on that goroutine
// and are isolated from each other by panic recovery. Packet number
// discontinuities and odd payload bytes are counted but never abort
// the stream.
package session
