// Package capability defines the collaborator interfaces agents invoke for
// work that lives outside the runtime core: script generation and screenshot
// analysis. Concrete backends live in the capability/anthropic and
// capability/openai subpackages; deterministic Static implementations are
// provided for tests and examples.
//
// The runtime treats capabilities as black boxes: agents hand them a request,
// receive a result or an error, and never see the underlying provider
// mechanics.
package capability
