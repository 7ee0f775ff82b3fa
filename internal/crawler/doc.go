// Package crawler defines the domain types and collaborator interfaces of a
// crawl: canonical URLs, the frontier, session bookkeeping, fetch outcomes,
// page records, chunks and scored results.
package crawler
