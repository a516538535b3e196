// Package secrets redacts credentials from text and structured documents.
//
// Built-in regular-expression rules run first; when enabled, the gitleaks
// default rule set adds broad coverage. Breakpoint context passes through a
// Scrubber before it is published to any reviewer channel.
package secrets
