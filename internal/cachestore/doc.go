// Package cachestore persists stage outputs as JSON records addressed by
// (namespace, identifier[, parameter]).
//
// Record paths are a pure function of the key so existence checks never scan
// directories. Writes are atomic: records are staged in a temp file and
// renamed (or hard-linked for exclusive writes) into place, so readers never
// observe partial data. Large payloads referenced by a record, such as the
// fetched media file, live in a blob directory beside it.
//
// Concurrent producers for the same key are serialized two ways: Do collapses
// duplicate computations inside one process, and Lock takes an advisory file
// lock that serializes separate processes sharing the cache directory. The
// first writer wins; later writers observe its record as a cache hit.
package cachestore
