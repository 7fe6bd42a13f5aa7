// ABOUTME: Package capability holds the named actions the coordinator model may invoke
// ABOUTME: Capabilities carry a JSON schema and a handler and are dispatched by name

// Package capability is the registry of in-process actions exposed to the
// language model as tools.
//
// Each Capability has a unique name, a description, a JSON schema for its
// input, and a Handler. Define builds a capability from a typed handler:
// the schema is reflected from the input struct and the raw JSON input is
// decoded and validated before the handler runs.
package capability
