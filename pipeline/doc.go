// Package pipeline orchestrates one end-to-end validation run against the
// instrument: generate table blocks, stream them into the device under
// queue-depth backpressure, read back the capture stream and verify every
// value in order.
//
// # Stages
//
//	producer(s) ──blocks──▶ injector ──control channel──▶ device
//	                            │
//	                            └──expected──▶ checker(s)
//	device ──capture channel──▶ reader ──captured──▶ checker(s)
//
// Stages run as goroutines joined by an errgroup; they communicate only
// through bounded channels and a one-shot gate that arms the device enable
// once the first block has been uploaded. Each stage that touches the wire
// opens its own connection - channels are never shared.
//
// # Ordering
//
// The checker consumes blocks in exactly the order the producer generated
// them. The injector forwards each block's expected values in consumption
// order, the device drains its queue FIFO, and the capture stream preserves
// byte order, so pairing the captured-block channel with the expected-values
// channel under a mutex keeps per-block verification atomic even with
// several checker workers.
//
// # Termination
//
// After the final block is injected the reader keeps consuming until the
// device closes the capture connection, then the channels are closed and
// the total consumed word count is compared against
// lines_per_block * nblocks * repeats. Any shortfall, surplus or value
// mismatch fails the run; counts are reported either way. A failure in any
// stage cancels the run context, which force-closes the other stages'
// connections so they cannot hang on a blocking read.
package pipeline
