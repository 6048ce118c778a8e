package bundler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// namespaceModule is the esbuild namespace of the virtual modules that hand
// dependents the namespace installed by the root bundle
const namespaceModule = "fluxpack-namespace"

// importFilter matches exactly the given import specifiers
func importFilter(specifiers []string) string {
	quoted := make([]string, len(specifiers))
	for i, s := range specifiers {
		quoted[i] = regexp.QuoteMeta(s)
	}
	return "^(" + strings.Join(quoted, "|") + ")$"
}

// namespaceShim is the source of the virtual module. It reads the global
// explicitly so a missing root fails inside the dependent's guarded block.
func namespaceShim(namespace string) string {
	return fmt.Sprintf("if (typeof %[1]s === \"undefined\") {\n"+
		"  throw new ReferenceError(\"%[1]s is not defined\");\n"+
		"}\n"+
		"module.exports = %[1]s;\n", namespace)
}

// namespacePlugin resolves namespace imports in dependent bundles to the
// global installed by the root bundle instead of bundling another copy of it
func namespacePlugin(namespace string, specifiers []string) api.Plugin {
	shim := namespaceShim(namespace)

	return api.Plugin{
		Name: "fluxpack-namespace",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: importFilter(specifiers)},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{
						Path:      args.Path,
						Namespace: namespaceModule,
					}, nil
				})

			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: namespaceModule},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					return api.OnLoadResult{
						Contents: &shim,
						Loader:   api.LoaderJS,
					}, nil
				})
		},
	}
}

// rootSourcePlugin resolves namespace imports to the root entry's source.
// The standalone bundle uses it to include the root instead of expecting it.
func rootSourcePlugin(rootSource string, specifiers []string) api.Plugin {
	return api.Plugin{
		Name: "fluxpack-root-source",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: importFilter(specifiers)},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{
						Path: rootSource,
					}, nil
				})
		},
	}
}
