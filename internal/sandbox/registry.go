package sandbox

import (
	"sort"
	"time"

	pkgerrors "codeduel/pkg/errors"
)

// Language identifiers accepted by the default registry.
const (
	LangJavaScript = "javascript"
	LangLua        = "lua"
	LangPython     = "python"
)

// Timeouts configures per-language wall-clock budgets. Zero values fall back
// to the language defaults.
type Timeouts struct {
	JavaScript time.Duration `yaml:"javascript"`
	Lua        time.Duration `yaml:"lua"`
	Python     time.Duration `yaml:"python"`
}

// Registry maps language identifiers to sandbox implementations.
type Registry struct {
	sandboxes map[string]Sandbox
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sandboxes: make(map[string]Sandbox)}
}

// NewDefaultRegistry registers the built-in languages.
func NewDefaultRegistry(t Timeouts) *Registry {
	r := NewRegistry()
	r.Register(LangJavaScript, NewJavaScript(t.JavaScript))
	r.Register(LangLua, NewLua(t.Lua))
	r.Register(LangPython, NewPython(t.Python))
	return r
}

// Register binds a language identifier to a sandbox. Later registrations
// replace earlier ones.
func (r *Registry) Register(languageID string, sb Sandbox) {
	r.sandboxes[languageID] = sb
}

// Get resolves a language identifier. Unknown identifiers are a hard error:
// the selector surface is constrained upstream, but the registry still
// rejects unknown keys.
func (r *Registry) Get(languageID string) (Sandbox, error) {
	sb, ok := r.sandboxes[languageID]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.UnknownLanguage, "unknown language %q", languageID)
	}
	return sb, nil
}

// Languages lists registered identifiers in sorted order.
func (r *Registry) Languages() []string {
	out := make([]string, 0, len(r.sandboxes))
	for id := range r.sandboxes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
