// ABOUTME: Package documentation for document generation
// ABOUTME: Explains how a run fans out into section generators and what the event stream guarantees

// Package generation turns a protocol and a document type into drafted
// sections.
//
// An Orchestrator validates a Request, claims every targeted section in the
// session store, and starts one Generator job per section under a
// concurrency limit. Each job retrieves protocol context, assembles a
// prompt, and streams the answer through the provider gateway. Every
// targeted section emits section_start, zero or more token events and then
// exactly one of section_complete or section_error. A run that is not
// cancelled ends with a single session_complete event carrying the overall
// status.
//
// Failures stay local to their section. Retrieval problems degrade to a
// no-context prompt, provider failures and short output end the section in
// error, and the remaining sections carry on.
package generation
