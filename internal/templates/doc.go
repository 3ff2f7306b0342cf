// Package templates holds the catalog of document types the gateway can generate.
//
// A document type is an ordered list of section templates. The order is the
// canonical order: sessions copy it at creation and never reorder it. Each
// section template carries the retrieval query used to find protocol context,
// the system prompt for the provider, and display metadata (title,
// description, estimated length).
//
// The built-in catalog (icf, site_checklist) is embedded from catalog.toml.
// Operators can layer their own TOML file on top with templates.path; a
// document type in that file replaces the built-in one with the same name.
package templates
