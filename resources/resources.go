// Package resources sketches the OpenCL resource loader's interface only
// (spec.md §1): kernel file search and program compilation are external
// collaborators out of this engine's core scope. Nothing in this package
// talks to an actual device; concrete providers live in plug-in code that
// is not part of this module.
package resources

import "github.com/ufo-kit/ufo-go/buffer"

// Kernel is an opaque compiled device program handle.
type Kernel interface{}

// Provider is the service every Task.Setup receives: kernel lookup by name
// and the command queues available for mapping (spec.md §1).
type Provider interface {
	GetKernel(name string) (Kernel, error)
	GetCmdQueues() []buffer.Queue
}

// Static is a minimal in-memory Provider, useful for tests and for CPU-only
// pipelines that never touch a real device.
type Static struct {
	Kernels map[string]Kernel
	Queues  []buffer.Queue
}

func (s *Static) GetKernel(name string) (Kernel, error) {
	if k, ok := s.Kernels[name]; ok {
		return k, nil
	}
	return nil, errKernelNotFound(name)
}

func (s *Static) GetCmdQueues() []buffer.Queue { return s.Queues }

type errKernelNotFound string

func (e errKernelNotFound) Error() string { return "resources: kernel not found: " + string(e) }
