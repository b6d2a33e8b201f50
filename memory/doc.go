// Package memory provides the tiered memory system shared across research
// rounds and sessions.
//
// Items live in one of three tiers: user (cross-session, per user), session
// (visible only to the session that wrote it) and agent (global heuristics,
// shared by all concurrent sessions). A Manager scopes session-tier access to
// its own session id and applies the error contract: writes fail loudly,
// reads degrade to an empty result plus a recorded warning.
//
// Exactly one Backend is configured per session. The journal subpackage is
// the durable local backend; an external backend implementing the same
// interface may replace it at configuration time, never both at once.
package memory
