// Package resolve turns raw annotation records into descriptors and groups
// them by the Python module they are exported into.
package resolve

import (
	"context"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/phobologic/pyistub/internal/model"
)

// Function resolves a single record. Each field is resolved on its own: an
// explicit name never implies an explicit signature or vice versa.
func Function(rec model.RawFunctionRecord) model.FunctionDescriptor {
	name := rec.SourceIdentifier
	if rec.NameOverride != nil {
		name = *rec.NameOverride
	}

	var sig string
	if rec.SignatureOverride != nil {
		sig = overrideSignature(name, *rec.SignatureOverride)
	} else {
		sig = synthesize(name, rec.Parameters)
	}

	return model.FunctionDescriptor{
		PublicName:    name,
		SignatureText: sig,
		Docstring:     strings.Join(rec.DocLines, "\n"),
	}
}

func synthesize(name string, params []string) string {
	return name + "(" + strings.Join(params, ", ") + ")"
}

// overrideSignature applies a text_signature override. pyo3 signatures are a
// bare parameter list, so the public name is prefixed unless already there.
func overrideSignature(name, override string) string {
	if strings.HasPrefix(override, name+"(") {
		return override
	}
	return name + override
}

// Units resolves the functions of every unit. Records are independent, so
// they are resolved in parallel; output order matches input order.
func Units(ctx context.Context, units []model.SourceUnit) ([]model.ResolvedUnit, error) {
	out := make([]model.ResolvedUnit, len(units))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range units {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			u := &units[i]
			fns := make([]model.FunctionDescriptor, len(u.Functions))
			for j := range u.Functions {
				fns[j] = Function(u.Functions[j])
			}
			out[i] = model.ResolvedUnit{
				Path:      u.Path,
				Module:    u.Module,
				Functions: fns,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
