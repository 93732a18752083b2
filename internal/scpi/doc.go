// Package scpi implements the instrument's SCPI control protocol.
//
// Commands and responses are CRLF-terminated text lines over a TCP
// control port. The client covers identification (*IDN?), the error
// queue (SYSTem:ERRor?), data port discovery and A-scan length
// configuration, and start/stop of continuous measurement.
package scpi
