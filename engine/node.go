package engine

import "sync/atomic"

// RenderQuantum is the number of frames rendered per graph pass.
const RenderQuantum = 128

// Block is one render quantum of planar stereo audio.
type Block struct {
	L, R []float64
}

func newBlock() Block {
	return Block{L: make([]float64, RenderQuantum), R: make([]float64, RenderQuantum)}
}

func (b Block) clear() {
	clear(b.L)
	clear(b.R)
}

func (b Block) copyFrom(src Block) {
	copy(b.L, src.L)
	copy(b.R, src.R)
}

func (b Block) add(src Block) {
	for i, v := range src.L {
		b.L[i] += v
	}
	for i, v := range src.R {
		b.R[i] += v
	}
}

// Node is a vertex of the audio graph. Nodes are created by a [Context]
// and may only be connected to nodes of the same context.
type Node interface {
	ID() uint64
	Name() string
	core() *node
}

// processor is the render-side behaviour of a node. in holds the sum of all
// connected inputs; out has one block per output.
type processor interface {
	process(q *quantum, in Block, out []Block)
}

type quantum struct {
	frame      int64
	sampleRate float64
}

type node struct {
	id      uint64
	name    string
	ctx     *Context
	inputs  int
	outputs int
	proc    processor

	// render-thread buffers
	in  Block
	out []Block
}

var nextNodeID atomic.Uint64

func (c *Context) newNode(name string, inputs, outputs int) *node {
	n := &node{
		id:      nextNodeID.Add(1),
		name:    name,
		ctx:     c,
		inputs:  inputs,
		outputs: outputs,
		in:      newBlock(),
		out:     make([]Block, outputs),
	}
	for i := range n.out {
		n.out[i] = newBlock()
	}
	return n
}

// ID returns a process-unique node identifier.
func (n *node) ID() uint64 { return n.id }

// Name returns the debug name given at creation.
func (n *node) Name() string { return n.name }

func (n *node) core() *node { return n }

// destination is the context's final sink.
type destination struct{}

func (destination) process(*quantum, Block, []Block) {}
