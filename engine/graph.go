package engine

import (
	"fmt"
	"slices"
)

// Edge is a directed connection from an output of one node to the input of
// another.
type Edge struct {
	From   Node
	Output int
	To     Node
}

// Graph is the edit handle passed to an Update batch. It is only valid for
// the duration of the callback.
type Graph struct {
	c     *Context
	dirty bool
}

// Update runs fn as one graph batch. Edits made through g become audible
// together at the start of a single render quantum. If fn returns an error
// the edges are restored to their state before the batch and nothing is
// published. fn must not call Update.
func (c *Context) Update(fn func(g *Graph) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateClosed {
		return ErrClosed
	}

	saved := slices.Clone(c.edges)
	g := &Graph{c: c}

	err := fn(g)
	g.c = nil
	if err != nil {
		c.edges = saved
		return err
	}

	if g.dirty {
		c.publish()
	}
	return nil
}

// Connect connects output 0 of from to to in its own batch.
func (c *Context) Connect(from, to Node) error {
	return c.Update(func(g *Graph) error { return g.Connect(from, to) })
}

// Disconnect removes every outgoing edge of from in its own batch.
func (c *Context) Disconnect(from Node) error {
	return c.Update(func(g *Graph) error {
		g.Disconnect(from)
		return nil
	})
}

// Edges returns a snapshot of all edges in insertion order.
func (c *Context) Edges() []Edge {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.edges)
}

// Connect connects output 0 of from to to.
func (g *Graph) Connect(from, to Node) error {
	return g.ConnectOutput(from, 0, to)
}

// ConnectOutput connects output index output of from to to. Connecting an
// existing edge again is a no-op.
func (g *Graph) ConnectOutput(from Node, output int, to Node) error {
	c, err := g.context()
	if err != nil {
		return err
	}

	f, t := from.core(), to.core()
	if f.ctx != c || t.ctx != c {
		return ErrForeignNode
	}

	if output < 0 || output >= f.outputs || t.inputs == 0 {
		return fmt.Errorf("%w: %s[%d] -> %s", ErrInvalidPort, f.name, output, t.name)
	}

	for _, e := range c.edges {
		if e.From.core() == f && e.Output == output && e.To.core() == t {
			return nil
		}
	}

	if f == t || c.reachable(t, f) {
		return fmt.Errorf("%w: %s -> %s", ErrCycle, f.name, t.name)
	}

	c.edges = append(c.edges, Edge{From: from, Output: output, To: to})
	g.dirty = true
	return nil
}

// Disconnect removes every outgoing edge of from.
func (g *Graph) Disconnect(from Node) {
	g.remove(func(e Edge) bool { return e.From.core() == from.core() })
}

// DisconnectFrom removes the edges from from to to.
func (g *Graph) DisconnectFrom(from, to Node) {
	g.remove(func(e Edge) bool {
		return e.From.core() == from.core() && e.To.core() == to.core()
	})
}

// Release removes every edge touching n, in either direction.
func (g *Graph) Release(n Node) {
	g.remove(func(e Edge) bool {
		return e.From.core() == n.core() || e.To.core() == n.core()
	})
}

func (g *Graph) remove(match func(Edge) bool) {
	c, err := g.context()
	if err != nil {
		return
	}

	before := len(c.edges)
	c.edges = slices.DeleteFunc(c.edges, match)
	if len(c.edges) != before {
		g.dirty = true
	}
}

func (g *Graph) context() (*Context, error) {
	if g.c == nil {
		return nil, errBatchDone
	}
	return g.c, nil
}

// reachable reports whether to can be reached from from along edges.
func (c *Context) reachable(from, to *node) bool {
	seen := map[*node]bool{from: true}
	stack := []*node{from}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}

		for _, e := range c.edges {
			if e.From.core() != n {
				continue
			}
			next := e.To.core()
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}

	return false
}

type planStep struct {
	node   *node
	inputs []Block
}

type renderPlan struct {
	steps   []planStep
	dest    *node
	hasDest bool
}

// publish compiles the current edges into a render plan and makes it
// visible to the render thread. Caller holds c.mu.
func (c *Context) publish() {
	plan := compile(c.edges, c.dest.node)
	c.plan.Store(plan)
	c.logger.Debug("graph published", "edges", len(c.edges), "steps", len(plan.steps))
}

// compile orders every node that feeds a sink (a node without outputs)
// topologically with Kahn's algorithm.
func compile(edges []Edge, dest *node) *renderPlan {
	// Walk backwards from sinks to find the live subgraph.
	upstream := make(map[*node][]Edge)
	var sinks []*node
	seenSink := make(map[*node]bool)

	for _, e := range edges {
		t := e.To.core()
		upstream[t] = append(upstream[t], e)
		if t.outputs == 0 && !seenSink[t] {
			seenSink[t] = true
			sinks = append(sinks, t)
		}
	}

	live := make(map[*node]bool)
	stack := slices.Clone(sinks)
	for _, s := range sinks {
		live[s] = true
	}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range upstream[n] {
			f := e.From.core()
			if !live[f] {
				live[f] = true
				stack = append(stack, f)
			}
		}
	}

	indegree := make(map[*node]int, len(live))
	downstream := make(map[*node][]*node)
	var order []*node

	// Keep edge insertion order so plans are deterministic.
	for _, e := range edges {
		f, t := e.From.core(), e.To.core()
		if !live[f] || !live[t] {
			continue
		}
		if _, ok := indegree[f]; !ok {
			indegree[f] = 0
			order = append(order, f)
		}
		if _, ok := indegree[t]; !ok {
			indegree[t] = 0
			order = append(order, t)
		}
		indegree[t]++
		downstream[f] = append(downstream[f], t)
	}

	queue := make([]*node, 0, len(order))
	for _, n := range order {
		if indegree[n] == 0 {
			queue = append(queue, n)
		}
	}

	plan := &renderPlan{dest: dest}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		step := planStep{node: n}
		for _, e := range upstream[n] {
			if live[e.From.core()] {
				step.inputs = append(step.inputs, e.From.core().out[e.Output])
			}
		}
		plan.steps = append(plan.steps, step)
		if n == dest {
			plan.hasDest = true
		}

		for _, next := range downstream[n] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	return plan
}
