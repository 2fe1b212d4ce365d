// Package control implements the instrument's textual control protocol over
// a single long-lived TCP connection.
//
// # Wire Protocol
//
// Requests are newline-terminated lines:
//
//	<path>?              read a field
//	<path>=<value>       write a scalar field
//	<path><suffix>B      open a table write (see package table)
//	*CHANGES?            bulk field/metadata snapshot
//
// Responses fall into four classes:
//
//	OK ...               successful write acknowledgment
//	ERR <message>        application-level failure
//	!v1 !v2 ... .        multi-line value list, terminated by a lone "."
//	<name>=<value>       scalar read; value parses as int, then float,
//	                     then falls back to a raw string
//
// # Layering
//
//	Client   high-level get/put/table operations over field paths
//	Channel  line framing and response accumulation
//	net.Conn TCP with Nagle's algorithm disabled
//
// A connect timeout bounds connection establishment only. Steady-state reads
// block indefinitely pending a device response; a stalled device stalls the
// caller. Channels are never shared between pipeline stages - each stage
// opens its own connection.
package control
