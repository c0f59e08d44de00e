// Package artifact describes pipeline outputs and the stages that produce
// them.
//
// An Artifact is named within a Scope and produced by a Stage. Its hash
// derives from the producing stage's fingerprint plus the artifact name and
// output position, so identical inputs always land on the same cache entry.
//
// Pipelines are assembled in two steps. First stages and artifacts are
// created and declared on scopes, either directly with Scope.Add and
// Scope.Nest or by walking a struct with Scope.Bind. Then Scope.Build
// registers every declared artifact in a Registry under its qualified name
// ("outer.inner.name") and freezes those names. A Registry is one pipeline
// build; Reset it before reusing it for an unrelated build.
package artifact
