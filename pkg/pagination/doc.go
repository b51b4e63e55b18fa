// Package pagination holds the page-accumulation rules for Spark collection
// endpoints.
//
// Spark returns collections one page at a time and announces the next page
// in a Link header. Callers ask for "up to N items" with a max query
// parameter. This package decouples the two numbers:
//
//   - CaptureCap records the caller's max as the chain's requested cap and
//     rewrites the outbound parameter to a fixed per-request page size.
//   - NextLink extracts the continuation URL from the response headers.
//   - Accumulate appends a page onto the items gathered so far and reports
//     whether the cap has been reached.
//
// Example:
//
//	d := &transport.Descriptor{Method: "GET", URL: base + "/rooms?max=250"}
//	pagination.CaptureCap(d, pagination.DefaultPageSize)
//	// d.URL now asks for max=100, d.MaxResults == 250
//
// The loop that drives a chain lives in the scheduler package.
package pagination
