// Package engine is a small block-based audio graph runtime modelled on the
// Web Audio API.
//
// A [Context] owns a set of nodes connected by edges. Graph edits are made
// inside [Context.Update]; when the batch returns, the graph is compiled into
// an immutable render plan and published with a single atomic store, so the
// render thread never observes a half-built graph. Rendering happens in
// quanta of [RenderQuantum] frames whenever the output device (or a test)
// calls [Context.Render]. The context clock only advances while the context
// is running and only by rendering.
//
// Node DSP state is owned by the render thread. The control plane talks to
// it through [Param] values (atomic targets, smoothed on the render side),
// scheduling calls on [BufferSourceNode], and [Port] messages for custom
// module kernels. Ended events and port messages are delivered on a single
// dispatcher goroutine per context.
package engine
