package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging across juicebox. Use these
// keys consistently so a single log aggregation query can match "storage
// name" style fields regardless of which package emitted them.
const (
	// ========================================================================
	// Request correlation
	// ========================================================================
	KeyRequestID = "request_id" // chi's per-request correlation ID

	// ========================================================================
	// HTTP
	// ========================================================================
	KeyMethod     = "method"      // HTTP method
	KeyPath       = "path"        // request path, or a filesystem path (config, secret file)
	KeyClientIP   = "client_ip"   // resolved client fingerprint source address
	KeyStatusCode = "status"      // HTTP response status code
	KeyDurationMs = "duration_ms" // request/operation duration in milliseconds
	KeyBytes      = "bytes"       // response body size in bytes

	// ========================================================================
	// Upload domain
	// ========================================================================
	KeyOwnerHash    = "owner_hash"    // fingerprint hash of the uploading owner
	KeyStorageName  = "storage_name"  // catalog storage name / blob key
	KeyOriginalName = "original_name" // caller-supplied filename before sanitizing
	KeySessionID    = "session_id"    // chunk upload session ID
	KeyChunkIndex   = "chunk_index"   // chunk index within a session
	KeyHash         = "hash"          // SHA-256 content hash, hex-encoded
	KeyFileSize     = "size"          // file or part size in bytes
	KeyExtension    = "extension"     // file extension matched against the denylist

	// ========================================================================
	// Administration & moderation
	// ========================================================================
	KeyReportFile = "file"       // storage name named in an abuse report
	KeyBanHash    = "ban_hash"   // fingerprint hash or CIDR a ban applies to
	KeyField      = "field"      // KV namespace field name being decoded

	// ========================================================================
	// Garbage collection & startup
	// ========================================================================
	KeyExpiredFiles     = "expired_files"     // catalog entries reaped for being past expiry
	KeyOrphanFiles      = "orphan_files"      // catalog entries reaped for a missing blob
	KeyStaleSessions    = "stale_sessions"    // chunk sessions reaped for being stale
	KeyErrorCount       = "errors"            // count of non-fatal errors during a sweep
	KeyKVBackend        = "kv_backend"        // configured KV store backend name
	KeyBlobStoreBackend = "blobstore_backend" // configured blob store backend name
	KeyGCInterval       = "gc_interval"       // configured GC sweep interval
	KeyConfigSource     = "source"            // where the active config was loaded from
	KeyListenAddr       = "addr"              // HTTP listen address

	// ========================================================================
	// Errors
	// ========================================================================
	KeyError     = "error"      // error message
	KeyErrorCode = "error_code" // errs.Error code string
)

// Method returns a slog.Attr for an HTTP method.
func Method(m string) slog.Attr {
	return slog.String(KeyMethod, m)
}

// Path returns a slog.Attr for a request or filesystem path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// StatusCode returns a slog.Attr for an HTTP response status code.
func StatusCode(code int) slog.Attr {
	return slog.Int(KeyStatusCode, code)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Bytes returns a slog.Attr for a byte count.
func Bytes(n int) slog.Attr {
	return slog.Int(KeyBytes, n)
}

// OwnerHash returns a slog.Attr for the uploading owner's fingerprint hash.
func OwnerHash(hash string) slog.Attr {
	return slog.String(KeyOwnerHash, hash)
}

// StorageName returns a slog.Attr for a catalog storage name.
func StorageName(name string) slog.Attr {
	return slog.String(KeyStorageName, name)
}

// OriginalName returns a slog.Attr for a caller-supplied filename.
func OriginalName(name string) slog.Attr {
	return slog.String(KeyOriginalName, name)
}

// SessionID returns a slog.Attr for a chunk upload session ID.
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// ChunkIndex returns a slog.Attr for a chunk index.
func ChunkIndex(i int) slog.Attr {
	return slog.Int(KeyChunkIndex, i)
}

// Hash returns a slog.Attr for a content hash.
func Hash(h string) slog.Attr {
	return slog.String(KeyHash, h)
}

// FileSize returns a slog.Attr for a file or part size in bytes.
func FileSize(n int64) slog.Attr {
	return slog.Int64(KeyFileSize, n)
}

// Extension returns a slog.Attr for a file extension.
func Extension(ext string) slog.Attr {
	return slog.String(KeyExtension, ext)
}

// ReportFile returns a slog.Attr for the storage name named in an abuse
// report.
func ReportFile(name string) slog.Attr {
	return slog.String(KeyReportFile, name)
}

// BanHash returns a slog.Attr for the fingerprint hash or CIDR a ban
// applies to.
func BanHash(hash string) slog.Attr {
	return slog.String(KeyBanHash, hash)
}

// Field returns a slog.Attr for a KV namespace field name being decoded.
func Field(name string) slog.Attr {
	return slog.String(KeyField, name)
}

// ExpiredFiles returns a slog.Attr for a count of expired catalog entries.
func ExpiredFiles(n int) slog.Attr {
	return slog.Int(KeyExpiredFiles, n)
}

// OrphanFiles returns a slog.Attr for a count of orphaned catalog entries.
func OrphanFiles(n int) slog.Attr {
	return slog.Int(KeyOrphanFiles, n)
}

// StaleSessions returns a slog.Attr for a count of reaped stale sessions.
func StaleSessions(n int) slog.Attr {
	return slog.Int(KeyStaleSessions, n)
}

// ErrorCount returns a slog.Attr for a count of non-fatal errors.
func ErrorCount(n int) slog.Attr {
	return slog.Int(KeyErrorCount, n)
}

// KVBackend returns a slog.Attr for the configured KV store backend name.
func KVBackend(name string) slog.Attr {
	return slog.String(KeyKVBackend, name)
}

// BlobStoreBackend returns a slog.Attr for the configured blob store backend
// name.
func BlobStoreBackend(name string) slog.Attr {
	return slog.String(KeyBlobStoreBackend, name)
}

// GCInterval returns a slog.Attr for the configured GC sweep interval.
func GCInterval(d time.Duration) slog.Attr {
	return slog.Duration(KeyGCInterval, d)
}

// ConfigSource returns a slog.Attr for where the active config was loaded
// from.
func ConfigSource(source string) slog.Attr {
	return slog.String(KeyConfigSource, source)
}

// ListenAddr returns a slog.Attr for the HTTP listen address.
func ListenAddr(addr string) slog.Attr {
	return slog.String(KeyListenAddr, addr)
}

// Err returns a slog.Attr for an error. It returns an empty Attr for a nil
// error so it is always safe to pass a possibly-nil err.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for an errs.Error code string.
func ErrorCode(code string) slog.Attr {
	return slog.String(KeyErrorCode, code)
}
