package engine

import (
	"errors"
	"fmt"
	"sync"
)

// ParamDescriptor declares a module parameter.
type ParamDescriptor struct {
	Name    string
	Default float64
	Min     float64
	Max     float64
}

// Kernel is the render-side half of a custom module. Process is called once
// per quantum on the render thread with the summed input, the output block,
// and the per-sample values of each declared parameter in declaration
// order. Process must not block or retain the slices.
type Kernel interface {
	Process(in, out Block, params [][]float64)
}

// KernelFactory builds a kernel for one module node. The port is the
// node's message channel; kernels keep it to report telemetry.
type KernelFactory func(sampleRate float64, port *Port) (Kernel, error)

// ModuleDescriptor describes a custom processing module that can be
// instantiated as a ModuleNode.
type ModuleDescriptor struct {
	Name   string
	Params []ParamDescriptor
	New    KernelFactory
}

// RegisterModule makes a module available on this context. Each name can be
// registered once per context.
func (c *Context) RegisterModule(desc ModuleDescriptor) error {
	if desc.Name == "" {
		return errors.New("engine: module name must not be empty")
	}
	if desc.New == nil {
		return fmt.Errorf("engine: module %q has nil factory", desc.Name)
	}

	c.modMu.Lock()
	defer c.modMu.Unlock()

	if _, exists := c.modules[desc.Name]; exists {
		return fmt.Errorf("engine: register %q: %w", desc.Name, errDuplicateModule)
	}
	c.modules[desc.Name] = desc
	c.logger.Debug("module registered", "module", desc.Name, "params", len(desc.Params))
	return nil
}

// HasModule reports whether name is registered.
func (c *Context) HasModule(name string) bool {
	c.modMu.RLock()
	defer c.modMu.RUnlock()
	_, ok := c.modules[name]
	return ok
}

// ModuleNode runs a registered kernel as a one-input, one-output node.
type ModuleNode struct {
	*node
	module string
	kernel Kernel
	port   *Port
	params []*Param
	byName map[string]*Param
	values [][]float64
}

// NewModule instantiates module as a node.
func (c *Context) NewModule(module, name string) (*ModuleNode, error) {
	c.modMu.RLock()
	desc, ok := c.modules[module]
	c.modMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, module)
	}

	m := &ModuleNode{
		node:   c.newNode(name, 1, 1),
		module: module,
		port:   &Port{ctx: c},
		byName: make(map[string]*Param, len(desc.Params)),
		values: make([][]float64, len(desc.Params)),
	}
	for _, pd := range desc.Params {
		p := newParam(pd.Name, pd.Default, pd.Min, pd.Max, c.sampleRate)
		m.params = append(m.params, p)
		m.byName[pd.Name] = p
	}

	kernel, err := desc.New(c.sampleRate, m.port)
	if err != nil {
		return nil, fmt.Errorf("engine: instantiate module %q: %w", module, err)
	}
	m.kernel = kernel
	m.proc = m
	return m, nil
}

// Module returns the registered module name.
func (m *ModuleNode) Module() string { return m.module }

// Param returns the named parameter, or nil when the module declares no
// such parameter.
func (m *ModuleNode) Param(name string) *Param { return m.byName[name] }

// Port returns the node's message port.
func (m *ModuleNode) Port() *Port { return m.port }

func (m *ModuleNode) process(_ *quantum, in Block, out []Block) {
	for i, p := range m.params {
		m.values[i] = p.block()
	}
	m.kernel.Process(in, out[0], m.values)
}

// Port is a bidirectional message channel between a module node on the
// control plane and its kernel on the render thread.
type Port struct {
	ctx *Context

	mu      sync.Mutex
	inbox   []any
	handler func(msg any)
}

// OnMessage sets the control-plane handler for kernel messages. Handlers
// run on the context's event goroutine.
func (p *Port) OnMessage(fn func(msg any)) {
	p.mu.Lock()
	p.handler = fn
	p.mu.Unlock()
}

// Send queues msg for the kernel. It is delivered on the kernel's next
// Drain.
func (p *Port) Send(msg any) {
	p.mu.Lock()
	p.inbox = append(p.inbox, msg)
	p.mu.Unlock()
}

// Post sends msg from the kernel to the control-plane handler. Render
// thread only.
func (p *Port) Post(msg any) {
	p.ctx.events.post(func() {
		p.mu.Lock()
		fn := p.handler
		p.mu.Unlock()
		if fn != nil {
			fn(msg)
		}
	})
}

// Drain hands every queued control message to fn, oldest first. Render
// thread only.
func (p *Port) Drain(fn func(msg any)) {
	p.mu.Lock()
	if len(p.inbox) == 0 {
		p.mu.Unlock()
		return
	}
	msgs := p.inbox
	p.inbox = nil
	p.mu.Unlock()

	for _, msg := range msgs {
		fn(msg)
	}
}
