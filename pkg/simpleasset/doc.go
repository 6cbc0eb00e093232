// Package simpleasset provides a per-owner, content-addressed asset store with
// byte quota accounting, for applications that keep notes, boards and files
// on behalf of many users.
//
// A Service accepts uploads, hashes them while spooling, and stores exactly
// one physical copy per unique content per owner. Images and PDFs are passed
// through a Transformer before they are persisted; when a transform fails the
// original bytes are stored unchanged. Every byte that enters or leaves an
// owner's account goes through Ledger.ApplyDelta, which rejects growth past
// the cap of a capped account and always accepts shrinking.
//
// Repositories (memory, Postgres) and blob stores (memory, filesystem, S3)
// are provided under subpackages.
//
// Size Accounting
//
// Inline record content is charged by its canonical serialization: zero for
// empty content, the UTF-8 byte length for text, and the length of compact
// JSON with sorted object keys and no HTML escaping for structured documents.
// Uploaded objects are charged by their stored (post-transform) size.
package simpleasset
