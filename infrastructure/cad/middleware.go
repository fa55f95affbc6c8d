package cad

import (
	"context"

	"github.com/ahrav/go-cadmark/internal/domain"
	"github.com/ahrav/go-cadmark/internal/ports"
)

// Operations seen by middleware.
const (
	OpExport = "export"
	OpRead   = "read"
)

// Request describes one CAD call as seen by middleware. It carries only
// what middleware needs to label and trace a call; the arguments and
// results of the wrapped port stay inside the adapter closure.
type Request struct {
	// Op is OpExport or OpRead.
	Op string
	// Path is the source document for exports and the interchange file
	// for reads.
	Path string
}

// Call performs one CAD call. Middleware sees every exporter and kernel
// invocation through this shape, so an error returned here is the error the
// port's caller receives.
type Call func(ctx context.Context, req Request) error

// Middleware wraps a Call to add cross-cutting behavior. The same
// middleware can decorate both exporters and kernels, and any state it
// holds (a rate limiter, a breaker) is shared by every call it wraps.
type Middleware func(next Call) Call

// Chain composes middleware so that the first one is the outermost. Nil
// entries are skipped, which lets callers build the list from optional
// settings without filtering it first.
func Chain(mws ...Middleware) Middleware {
	return func(next Call) Call {
		for i := len(mws) - 1; i >= 0; i-- {
			if mws[i] != nil {
				next = mws[i](next)
			}
		}
		return next
	}
}

// WrapExporter decorates e with mws. Each Export becomes one OpExport
// request whose Path is the source document. With no middleware e is
// returned unchanged, and a failed export never leaks a partial path.
func WrapExporter(e ports.Exporter, mws ...Middleware) ports.Exporter {
	if len(mws) == 0 {
		return e
	}
	chain := Chain(mws...)
	return ports.ExporterFunc(func(ctx context.Context, sourcePath, outputDir string) (string, error) {
		var out string
		err := chain(func(ctx context.Context, _ Request) error {
			var err error
			out, err = e.Export(ctx, sourcePath, outputDir)
			return err
		})(ctx, Request{Op: OpExport, Path: sourcePath})
		if err != nil {
			return "", err
		}
		return out, nil
	})
}

// WrapKernel decorates k with mws. Each ReadProperties becomes one OpRead
// request whose Path is the interchange file. With no middleware k is
// returned unchanged.
func WrapKernel(k ports.GeometryKernel, mws ...Middleware) ports.GeometryKernel {
	if len(mws) == 0 {
		return k
	}
	chain := Chain(mws...)
	return ports.GeometryKernelFunc(func(ctx context.Context, path string) (domain.GeometricProperties, error) {
		var props domain.GeometricProperties
		err := chain(func(ctx context.Context, _ Request) error {
			var err error
			props, err = k.ReadProperties(ctx, path)
			return err
		})(ctx, Request{Op: OpRead, Path: path})
		if err != nil {
			return domain.GeometricProperties{}, err
		}
		return props, nil
	})
}
