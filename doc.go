// Package pandatest validates an FPGA-based signal-generation/capture
// instrument over its two TCP ports: a textual control protocol with an
// embedded chunked-binary table-upload mode, and a raw binary capture
// stream.
//
// # Architecture
//
// The library is organized into layers:
//
//   - pipeline: concurrent producer/injector/capture/checker orchestration
//   - inject: flow-controlled streaming table injection
//   - control: control-channel framing, classification and field operations
//   - capture: capture-channel stream reassembly
//   - table: chunked base64 table-write codec
//   - fieldpath: hierarchical field paths and the metadata snapshot
//
// # Basic Usage
//
//	client, err := control.Connect(control.Config{Host: host}, log)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	seq := fieldpath.New(client.FirstInstance("SEQ"))
//	val, err := client.Get(seq.Child("ACTIVE"))
//
// End-to-end validation runs are driven through pipeline.Runner; the
// pandatest command wraps the two built-in scenarios (seq, pgen) and a
// field watcher.
package pandatest

// Version is the library version.
const Version = "0.1.0-dev"
