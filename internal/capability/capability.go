// Package capability implements the predicate table that decides whether a
// backend's advertised LSP server capabilities cover a given method or
// command. Capabilities are kept as opaque JSON (per spec.md §9, "do not
// eagerly model every LSP capability field") and probed on demand rather
// than unmarshaled into a typed ServerCapabilities struct.
package capability

import "encoding/json"

// LSP method names the Capability Model and Router dispatch on. Only the
// subset listed in routable below may resolve to a backend other than the
// primary (spec.md §4.4.1, GLOSSARY "Routable method").
const (
	MethodCompletion         = "textDocument/completion"
	MethodCompletionResolve  = "completionItem/resolve"
	MethodSignatureHelp      = "textDocument/signatureHelp"
	MethodFormatting         = "textDocument/formatting"
	MethodRangeFormatting    = "textDocument/rangeFormatting"
	MethodCodeAction         = "textDocument/codeAction"
	MethodExecuteCommand     = "workspace/executeCommand"
	MethodInitialize         = "initialize"
	MethodInitialized        = "initialized"
	MethodShutdown           = "shutdown"
	MethodExit               = "exit"
	MethodCancelRequest      = "$/cancelRequest"
	MethodDidChangeConfig    = "workspace/didChangeConfiguration"
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
)

// routable lists the methods whose target backend is resolved dynamically,
// as opposed to always going to the primary.
var routable = map[string]bool{
	MethodCompletion:        true,
	MethodCompletionResolve: true,
	MethodSignatureHelp:     true,
	MethodFormatting:        true,
	MethodRangeFormatting:   true,
	MethodExecuteCommand:    true,
}

// IsRoutable reports whether method belongs to the routable set (spec.md §3,
// Routing Table). textDocument/codeAction is deliberately excluded: it
// broadcasts to a set of backends rather than resolving to exactly one.
func IsRoutable(method string) bool {
	return routable[method]
}

// Capabilities wraps a backend's raw `initialize` result capabilities
// object, probed lazily via the predicate table in spec.md §4.3.
type Capabilities struct {
	raw map[string]json.RawMessage
}

// Parse decodes a ServerCapabilities JSON object into an opaque Capabilities
// value. A nil or empty input yields a Capabilities with no fields set,
// matching a server that advertises nothing.
func Parse(raw json.RawMessage) Capabilities {
	if len(raw) == 0 {
		return Capabilities{}
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Capabilities{}
	}
	return Capabilities{raw: m}
}

// field returns the raw JSON for a top-level capability field, and whether
// it was present at all.
func (c Capabilities) field(name string) (json.RawMessage, bool) {
	if c.raw == nil {
		return nil, false
	}
	v, ok := c.raw[name]
	return v, ok
}

// present reports whether a field is present and not JSON null.
func (c Capabilities) present(name string) bool {
	v, ok := c.field(name)
	return ok && string(v) != "null"
}

// truthy reports whether a field is present and either `true` or a
// non-null JSON value other than `false` (LSP capability fields are often
// `boolean | SomeOptions`, and the options-object form means "enabled").
func (c Capabilities) truthy(name string) bool {
	v, ok := c.field(name)
	if !ok || string(v) == "null" {
		return false
	}
	if string(v) == "false" {
		return false
	}
	return true
}

// Supports reports whether the capabilities object covers method, per the
// predicate table in spec.md §4.3. Methods outside the closed set always
// report true — they route to the primary without a capability check.
func (c Capabilities) Supports(method string) bool {
	switch method {
	case MethodCompletion:
		return c.present("completionProvider")
	case MethodCompletionResolve:
		v, ok := c.field("completionProvider")
		if !ok {
			return false
		}
		var opts struct {
			ResolveProvider bool `json:"resolveProvider"`
		}
		_ = json.Unmarshal(v, &opts)
		return opts.ResolveProvider
	case MethodSignatureHelp:
		return c.present("signatureHelpProvider")
	case MethodFormatting:
		return c.truthy("documentFormattingProvider")
	case MethodRangeFormatting:
		return c.truthy("documentRangeFormattingProvider")
	case MethodCodeAction:
		return c.truthy("codeActionProvider")
	default:
		return true
	}
}

// ExecuteCommandSupports reports whether the capabilities object advertises
// command among executeCommandProvider.commands.
func (c Capabilities) ExecuteCommandSupports(command string) bool {
	v, ok := c.field("executeCommandProvider")
	if !ok {
		return false
	}
	var opts struct {
		Commands []string `json:"commands"`
	}
	if err := json.Unmarshal(v, &opts); err != nil {
		return false
	}
	for _, cmd := range opts.Commands {
		if cmd == command {
			return true
		}
	}
	return false
}

// ExecuteCommandCommands returns the raw command list advertised by this
// backend, or nil if none.
func (c Capabilities) ExecuteCommandCommands() []string {
	v, ok := c.field("executeCommandProvider")
	if !ok {
		return nil
	}
	var opts struct {
		Commands []string `json:"commands"`
	}
	if err := json.Unmarshal(v, &opts); err != nil {
		return nil
	}
	return opts.Commands
}

// Field exposes a raw provider field for result-synthesis purposes
// (spec.md §4.4.3 copies provider fields verbatim between capability sets).
func (c Capabilities) Field(name string) (json.RawMessage, bool) {
	return c.field(name)
}
