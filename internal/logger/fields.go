package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across Secure9P, the console,
// the dispatcher, and the event pump. Use these keys consistently so log
// lines aggregate and query cleanly regardless of which subsystem emitted
// them.
const (
	// ========================================================================
	// Correlation
	// ========================================================================
	KeyTraceID = "trace_id" // correlation id for one request/operation

	// ========================================================================
	// Secure9P / console verb and path
	// ========================================================================
	KeyVerb   = "verb"   // 9P verb or console verb: walk, open, read, ATTACH, ...
	KeyTag    = "tag"    // Secure9P tag
	KeyFid    = "fid"    // Secure9P fid
	KeyPath   = "path"   // namespace path the operation targets
	KeyStatus = "status" // wire error kind or console status code
	KeySize   = "size"   // frame or payload size in bytes
	KeyMsize  = "msize"  // negotiated maximum message size

	// ========================================================================
	// I/O
	// ========================================================================
	KeyOffset       = "offset"        // read/write offset
	KeyCount        = "count"         // byte count requested
	KeyBytesRead    = "bytes_read"    // actual bytes read
	KeyBytesWritten = "bytes_written" // actual bytes written

	// ========================================================================
	// Client / transport identification
	// ========================================================================
	KeyClientIP   = "client_ip"   // client address (without port), or "serial"
	KeyClientPort = "client_port" // client source port (TCP console only)
	KeyTransport  = "transport"   // serial or tcp

	// ========================================================================
	// Capability ticket / identity
	// ========================================================================
	KeyRole    = "role"    // ticket role of the caller
	KeySubject = "subject" // ticket subject, when present
	KeyTicket  = "ticket"  // ticket id (truncated) for audit correlation

	// ========================================================================
	// Session & worker
	// ========================================================================
	KeySessionID = "session_id" // Secure9P session id
	KeyWorkerID  = "worker_id"  // worker/shard identifier
	KeyLeaseID   = "lease_id"   // lease identifier

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeySource     = "source"      // namespace provider or subsystem name
	KeyOperation  = "operation"   // sub-operation type for complex operations
	KeyAttempt    = "attempt"     // retry attempt number

	// ========================================================================
	// Lifecycle
	// ========================================================================
	KeyState    = "state"    // lifecycle state: booting, online, degraded, ...
	KeyPrevious = "previous" // previous lifecycle state, on a transition

	// ========================================================================
	// CAS / updates
	// ========================================================================
	KeyChunkHash = "chunk_hash" // content hash of a CAS chunk
	KeyEpoch     = "epoch"      // update epoch identifier

	// ========================================================================
	// Directory operations
	// ========================================================================
	KeyEntries = "entries" // number of directory entries returned

	// ========================================================================
	// Event pump
	// ========================================================================
	KeyPumpSource = "pump_source" // event pump source name for this tick
	KeyTickBudget = "tick_budget" // remaining per-tick byte/op budget
)

// ============================================================================
// Field constructors for type safety
// These functions provide type-safe construction of slog.Attr values.
// ============================================================================

// TraceID returns a slog.Attr for the correlation id.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// Verb returns a slog.Attr for the 9P or console verb.
func Verb(v string) slog.Attr {
	return slog.String(KeyVerb, v)
}

// Tag returns a slog.Attr for the Secure9P tag.
func Tag(tag uint16) slog.Attr {
	return slog.Any(KeyTag, tag)
}

// Fid returns a slog.Attr for the Secure9P fid.
func Fid(fid uint32) slog.Attr {
	return slog.Any(KeyFid, fid)
}

// Path returns a slog.Attr for the namespace path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Status returns a slog.Attr for a wire error kind or console status code.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Size returns a slog.Attr for a frame or payload size.
func Size(s uint32) slog.Attr {
	return slog.Any(KeySize, s)
}

// Msize returns a slog.Attr for the negotiated maximum message size.
func Msize(m uint32) slog.Attr {
	return slog.Any(KeyMsize, m)
}

// Offset returns a slog.Attr for a read/write offset.
func Offset(off uint64) slog.Attr {
	return slog.Uint64(KeyOffset, off)
}

// Count returns a slog.Attr for a byte count requested.
func Count(c uint32) slog.Attr {
	return slog.Any(KeyCount, c)
}

// BytesRead returns a slog.Attr for actual bytes read.
func BytesRead(n int) slog.Attr {
	return slog.Int(KeyBytesRead, n)
}

// BytesWritten returns a slog.Attr for actual bytes written.
func BytesWritten(n int) slog.Attr {
	return slog.Int(KeyBytesWritten, n)
}

// ClientIP returns a slog.Attr for the client address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// ClientPort returns a slog.Attr for the client source port.
func ClientPort(port int) slog.Attr {
	return slog.Int(KeyClientPort, port)
}

// Transport returns a slog.Attr for the console transport (serial or tcp).
func Transport(t string) slog.Attr {
	return slog.String(KeyTransport, t)
}

// Role returns a slog.Attr for the ticket role of the caller.
func Role(role string) slog.Attr {
	return slog.String(KeyRole, role)
}

// Subject returns a slog.Attr for the ticket subject.
func Subject(subject string) slog.Attr {
	return slog.String(KeySubject, subject)
}

// Ticket returns a slog.Attr for a truncated ticket id, safe to log.
func Ticket(id string) slog.Attr {
	return slog.String(KeyTicket, id)
}

// SessionID returns a slog.Attr for the Secure9P session id.
func SessionID(id uint64) slog.Attr {
	return slog.Uint64(KeySessionID, id)
}

// WorkerID returns a slog.Attr for a worker/shard identifier.
func WorkerID(id string) slog.Attr {
	return slog.String(KeyWorkerID, id)
}

// LeaseID returns a slog.Attr for a lease identifier.
func LeaseID(id string) slog.Attr {
	return slog.String(KeyLeaseID, id)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Source returns a slog.Attr for the namespace provider or subsystem name.
func Source(src string) slog.Attr {
	return slog.String(KeySource, src)
}

// Operation returns a slog.Attr for a sub-operation type.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// State returns a slog.Attr for a lifecycle state.
func State(state string) slog.Attr {
	return slog.String(KeyState, state)
}

// Previous returns a slog.Attr for the previous lifecycle state.
func Previous(state string) slog.Attr {
	return slog.String(KeyPrevious, state)
}

// ChunkHash returns a slog.Attr for a CAS chunk content hash.
func ChunkHash(hash string) slog.Attr {
	return slog.String(KeyChunkHash, hash)
}

// Epoch returns a slog.Attr for an update epoch identifier.
func Epoch(epoch uint64) slog.Attr {
	return slog.Uint64(KeyEpoch, epoch)
}

// Entries returns a slog.Attr for the number of directory entries returned.
func Entries(n int) slog.Attr {
	return slog.Int(KeyEntries, n)
}

// PumpSource returns a slog.Attr for the event pump source of this tick.
func PumpSource(name string) slog.Attr {
	return slog.String(KeyPumpSource, name)
}

// TickBudget returns a slog.Attr for the remaining per-tick budget.
func TickBudget(remaining int) slog.Attr {
	return slog.Int(KeyTickBudget, remaining)
}
