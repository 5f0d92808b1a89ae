// Package console bridges browser viewers to one long-lived shell per
// managed game server.
//
// # Core Components
//
//   - [Registry]: maps server ids to their live [Session]. Creation is atomic
//     per id, so at most one shell handle ever exists for a server.
//   - [Session]: owns a [shell.Handle] and fans its output out to every
//     attached [Viewer]. Input and resize are serialized per Session.
//   - [Viewer]: one connection's attachment. Output is queued in a bounded
//     buffer; a viewer that overflows it is dropped with [ErrSlowViewer].
//   - [Gateway]: per-connection state machine (Unbound or Bound) translating
//     join, leave, input and resize events into Session calls and relaying
//     output back as console_output frames.
//
// # Session Lifecycle
//
//  1. First join for a server opens the shell → state=[StateActive].
//
//  2. Viewers attach and detach freely. When the last viewer leaves the
//     shell keeps running headless; the next join sees live output from
//     that point on.
//
//  3. The shell's output stream ends, or [Registry.Stop] is called →
//     state=[StateClosing]. Every viewer is finished with [ErrSessionClosed]
//     and receives console_closed.
//
//  4. The handle is released → state=[StateClosed] and the Session removes
//     itself from the registry. A later join creates a fresh Session.
//
// # Limits
//
//   - Input size: [MaxInputSize] (64 KB) per console_input event.
//   - Terminal dimensions: clamped to [MaxCols] x [MaxRows] (500x500).
//   - Output buffer: [DefaultViewerBuffer] chunks per viewer unless configured.
//
// # Log Prefixes
//
// Sessions log at [console], the registry at [registry] and gateways at
// [gateway].
package console
