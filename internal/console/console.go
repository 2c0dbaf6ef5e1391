// Package console implements Cohesix's dual serial+TCP console: one
// shared line-oriented command dispatcher whose ACK/ERR/END output is
// byte-identical regardless of which transport fed it a line (spec.md
// §4.8, the transport-parity testable property in §8). Framer (in
// framing.go) adapts each transport's raw byte stream into the discrete
// lines HandleLine consumes — 4-byte length-prefixed on TCP, newline-
// delimited on serial — so Dispatcher itself never has to know which
// transport it is serving.
//
// Grounded on dittofs's internal/adapter/nfs dispatch.go consolidated
// entry point for the "one router, many transports" shape, and
// internal/controlplane/api/auth for the host-operator bearer-token
// verification AUTH delegates to.
package console

import (
	"encoding/json"
	"strings"

	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/codec"
	"github.com/cohesix/root/internal/logger"
	"github.com/cohesix/root/internal/ticket"
)

// Tree is the subset of internal/namespace a console Conn needs.
type Tree interface {
	Walk(mounts, path []string, name string) (codec.QidMeta, []string, error)
	Open(role string, path []string, mode codec.OpenMode) (codec.QidMeta, error)
	Read(role string, path []string, offset uint64, count uint32) ([]byte, error)
	Write(role string, path []string, offset uint64, data []byte) (uint32, error)
}

// TicketVerifier is the subset of internal/ticket.Issuer a Conn needs.
type TicketVerifier interface {
	Verify(token string) (ticket.Claims, error)
}

// ControlDispatcher handles a forwarded queen-only verb line, matching
// internal/providers.DispatchFunc's shape so the console and
// /queen/ctl share one backing dispatcher.
type ControlDispatcher func(line []byte) error

// Conn holds one connection's console state: auth/attach status and its
// own rate limiter, independent of whether the transport is serial or
// TCP.
type Conn struct {
	id            uint64
	authenticated bool
	limiter       *AuthLimiter
	role          string
	subject       string
	mounts        []string
	idle          *IdleTracker
}

// NewConn builds fresh per-connection state for id, rate-limited by
// limiter.
func NewConn(id uint64, limiter *AuthLimiter) *Conn {
	return &Conn{id: id, limiter: limiter}
}

// SetIdleTracker attaches an idle/heartbeat tracker to conn. Only TCP
// connections carry one — serial sessions have no idle timeout (spec.md
// §4.8: "serial stays open").
func (c *Conn) SetIdleTracker(t *IdleTracker) { c.idle = t }

// Idle returns conn's idle tracker, or nil for serial connections.
func (c *Conn) Idle() *IdleTracker { return c.idle }

// Dispatcher is the shared command router both transports feed lines
// into.
type Dispatcher struct {
	auth          *HostAuth
	tree          Tree
	tickets       TicketVerifier
	control       ControlDispatcher
	defaultMounts map[string][]string
}

// New builds a Dispatcher. defaultMounts lists, per role, the mount set
// granted to an ATTACH with no ticket argument (spec.md §8 scenario 2:
// "ATTACH queen (no ticket)") — roles absent from defaultMounts must
// always present a ticket.
func New(auth *HostAuth, tree Tree, tickets TicketVerifier, control ControlDispatcher, defaultMounts map[string][]string) *Dispatcher {
	return &Dispatcher{auth: auth, tree: tree, tickets: tickets, control: control, defaultMounts: defaultMounts}
}

// HandleLine processes one decoded command line and returns the
// response lines to send back verbatim, in order (ACK first, then any
// streamed lines, then a trailing END for streaming verbs).
func (d *Dispatcher) HandleLine(conn *Conn, line string) []string {
	if conn.idle != nil {
		conn.idle.Touch()
	}
	verb, rest := splitVerb(line)
	switch strings.ToUpper(verb) {
	case "AUTH":
		return []string{d.handleAuth(conn, rest)}
	case "ATTACH":
		return []string{d.handleAttach(conn, rest)}
	case "TAIL":
		return d.handleTail(conn, rest)
	case "CAT":
		return []string{d.handleCat(conn, rest)}
	case "LS":
		return []string{"ERR LS reason=unsupported"}
	case "ECHO":
		return []string{d.handleEcho(conn, rest)}
	case "LOG":
		return d.handleTail(conn, "/log/queen.log")
	case "PING":
		return []string{"PONG"}
	case "QUIT":
		return []string{"OK QUIT"}
	case "SPAWN", "KILL", "BIND", "MOUNT":
		return []string{d.handleControl(conn, verb, rest)}
	default:
		return []string{"ERR " + verb + " reason=unknown-verb"}
	}
}

func (d *Dispatcher) handleAuth(conn *Conn, token string) string {
	if conn.limiter.InCooldown() {
		return "ERR AUTH reason=RateLimited"
	}
	subject, err := d.auth.Verify(token)
	if err != nil {
		conn.limiter.RecordFailure()
		logger.Warn("console auth failed", logger.Err(err))
		return "ERR AUTH"
	}
	conn.limiter.RecordSuccess()
	conn.authenticated = true
	conn.subject = subject
	return "OK AUTH"
}

func (d *Dispatcher) handleAttach(conn *Conn, args string) string {
	if !conn.authenticated {
		return "ERR ATTACH reason=Permission"
	}
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "ERR ATTACH reason=Invalid"
	}
	role := fields[0]
	var claims ticket.Claims
	if len(fields) >= 2 {
		c, err := d.tickets.Verify(fields[1])
		if err != nil {
			return "ERR ATTACH reason=" + kindOf(err)
		}
		claims = c
	} else {
		mounts, ok := d.defaultMounts[role]
		if !ok {
			return "ERR ATTACH reason=Permission"
		}
		claims = ticket.Claims{Role: role, Subject: conn.subject, Mounts: mounts}
	}
	conn.role = claims.Role
	conn.mounts = claims.Mounts
	return "OK ATTACH role=" + claims.Role + " session=" + uitoa(conn.id)
}

func (d *Dispatcher) handleTail(conn *Conn, path string) []string {
	if !conn.authenticated || conn.role == "" {
		return []string{"ERR TAIL reason=Permission"}
	}
	segs := splitPath(strings.TrimSpace(path))
	if _, err := d.tree.Open(conn.role, segs, codec.ModeReadOnly); err != nil {
		return []string{"ERR TAIL reason=" + kindOf(err)}
	}
	data, err := d.tree.Read(conn.role, segs, 0, 65536)
	if err != nil {
		return []string{"ERR TAIL reason=" + kindOf(err)}
	}
	out := []string{"OK TAIL path=" + path}
	for _, l := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if l != "" {
			out = append(out, l)
		}
	}
	out = append(out, "END")
	return out
}

func (d *Dispatcher) handleCat(conn *Conn, path string) string {
	if !conn.authenticated || conn.role == "" {
		return "ERR CAT reason=Permission"
	}
	p := strings.TrimSpace(path)
	segs := splitPath(p)
	if _, err := d.tree.Open(conn.role, segs, codec.ModeReadOnly); err != nil {
		return "ERR CAT reason=" + kindOf(err)
	}
	data, err := d.tree.Read(conn.role, segs, 0, 65536)
	if err != nil {
		return "ERR CAT reason=" + kindOf(err)
	}
	escaped := strings.ReplaceAll(string(data), "\n", "\\n")
	return "OK CAT path=" + p + " data=" + escaped
}

func (d *Dispatcher) handleEcho(conn *Conn, args string) string {
	if !conn.authenticated || conn.role == "" {
		return "ERR WRITE reason=Permission"
	}
	text, path, ok := strings.Cut(args, ">")
	if !ok {
		return "ERR WRITE reason=Invalid"
	}
	text = strings.TrimSpace(text)
	path = strings.TrimSpace(path)
	segs := splitPath(path)
	if _, err := d.tree.Open(conn.role, segs, codec.ModeWriteOnlyAppend); err != nil {
		return "ERR WRITE reason=" + kindOf(err)
	}
	n, err := d.tree.Write(conn.role, segs, 0, []byte(text+"\n"))
	if err != nil {
		return "ERR WRITE reason=" + kindOf(err)
	}
	return "OK WRITE n=" + uitoa(uint64(n))
}

func (d *Dispatcher) handleControl(conn *Conn, verb, args string) string {
	if !conn.authenticated || conn.role == "" {
		return "ERR " + verb + " reason=Permission"
	}
	if d.control == nil {
		return "ERR " + verb + " reason=unsupported"
	}
	fields := strings.Fields(args)
	nodeID := ""
	if len(fields) > 0 {
		nodeID = fields[0]
	}
	line, err := json.Marshal(map[string]string{"verb": strings.ToLower(verb), "node_id": nodeID})
	if err != nil {
		return "ERR " + verb + " reason=Invalid"
	}
	if err := d.control(append(line, '\n')); err != nil {
		return "ERR " + verb + " reason=" + kindOf(err)
	}
	return "OK " + strings.ToUpper(verb)
}

func splitVerb(line string) (verb, rest string) {
	verb, rest, _ = strings.Cut(strings.TrimSpace(line), " ")
	return verb, rest
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func kindOf(err error) string {
	if k, ok := cerr.As(err); ok {
		return k.String()
	}
	return "Invalid"
}

func uitoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
