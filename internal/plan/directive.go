package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportsBinding is the variable the root module body must define. The root
// footer returns it from the isolating closure.
const ExportsBinding = "__fluxpack_exports__"

// WrapDirective is the text placed around a bundle body to enforce load order
type WrapDirective struct {
	Header string `json:"header" yaml:"header"`
	Footer string `json:"footer" yaml:"footer"`
}

// Wrap returns body enclosed by the directive
func (w WrapDirective) Wrap(body string) string {
	var b strings.Builder
	b.Grow(len(w.Header) + len(body) + len(w.Footer))
	b.WriteString(w.Header)
	b.WriteString(body)
	b.WriteString(w.Footer)
	return b.String()
}

// ComputeWrapDirective returns the header and footer for a descriptor, given
// the plan's root descriptor and the namespace the root installs.
//
// The root gets a closure assigned to the namespace that binds window to the
// worker or host global and yields the default export of the module. Every
// other descriptor gets a guarded block whose catch clause rethrows the
// load-order message naming its own file and the root's output file.
//
// The result depends only on its arguments.
func ComputeWrapDirective(d, root EntryDescriptor, namespace string) WrapDirective {
	if d.Name == root.Name {
		return WrapDirective{
			Header: fmt.Sprintf("var %s = (function() {\n"+
				"  var window = typeof self !== 'undefined' ? self : globalThis;\n", namespace),
			Footer: fmt.Sprintf("\n  return %s;\n})().default;\n", ExportsBinding),
		}
	}

	return WrapDirective{
		Header: "try {\n",
		Footer: "\n} catch (error) {\n" +
			"  throw new Error(" + jsString(LoadOrderMessage(d.FileName(), root.FileName())) + ");\n" +
			"}\n",
	}
}

// LoadOrderMessage is the error raised at bundle execution time when a
// dependent bundle runs before the root bundle initialized the namespace.
func LoadOrderMessage(file, rootFile string) string {
	return fmt.Sprintf("Cannot instantiate %s - be sure to load %s first.", file, rootFile)
}

// jsString quotes s as a JavaScript string literal. JSON string syntax is a
// subset of JavaScript's, including the U+2028/U+2029 escapes.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		// json.Marshal cannot fail for a string
		return `""`
	}
	return string(b)
}
