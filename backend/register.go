package backend

import "github.com/ehrlich-b/go-tgtbs/internal/interfaces"

// Registrar is satisfied by tgtbs.Registry.
type Registrar interface {
	Register(t interfaces.Template)
}

// Options configures the templates that need more than OpenParams.
type Options struct {
	AIO AIOOptions
	S3  S3Options
}

// Templates returns the built-in templates.
func Templates(opts Options) []interfaces.Template {
	return []interfaces.Template{
		NullTemplate(),
		MemoryTemplate(),
		FileTemplate(),
		AIOTemplate(opts.AIO),
		S3Template(opts.S3),
	}
}

// RegisterAll registers every built-in template with reg.
func RegisterAll(reg Registrar, opts Options) {
	for _, t := range Templates(opts) {
		reg.Register(t)
	}
}
