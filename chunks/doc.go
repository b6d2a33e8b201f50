// Package chunks implements the per-session chunk store.
//
// Chunks are content-addressed: the id is a deterministic hash of
// (paper, content type, location), so upserting the same item twice
// overwrites in place. Embedded chunks are indexed in an in-process
// chromem-go collection for cosine ranking; every chunk, embedded or not,
// stays eligible for keyword ranking. Retrieval is deterministic: equal
// scores break ties by ascending chunk id.
//
// The first successfully embedded chunk fixes the session's embedding
// dimension. Later chunks with a different dimension are stored without
// their embedding, and the degradation is recorded once per session.
package chunks
