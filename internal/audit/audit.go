// Package audit is an async, buffered writer for the append-only audit log
// (spec §3 "AuditLog ... append-only event log", §7 "Audit log records
// every failure with actor, ip, and cause"). forgehost models Company as a
// row rather than a schema, so unlike the teacher's per-tenant-schema
// writer, every entry lands in one table.
package audit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry represents a single audit log entry to be written.
type Entry struct {
	CompanyID  *uuid.UUID
	UserID     *uuid.UUID
	Action     string
	Resource   string
	ResourceID uuid.UUID
	Detail     json.RawMessage
	IPAddress  *netip.Addr
	UserAgent  *string
	Cause      string
}

// Writer is an async, buffered audit log writer. Entries are sent to an
// internal channel and flushed by a background goroutine.
type Writer struct {
	pool    *pgxpool.Pool
	logger  loggerFunc
	entries chan Entry
	wg      sync.WaitGroup
}

type loggerFunc interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(pool *pgxpool.Pool, logger loggerFunc) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start begins the background goroutine that flushes audit entries to the
// database. It drains and flushes the remaining buffer once ctx is
// cancelled; call Close afterward to wait for that drain to finish.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an audit entry for async writing. It never blocks the caller;
// if the buffer is full the entry is dropped and a warning is logged.
func (w *Writer) Log(entry Entry) {
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"action", entry.Action, "resource", entry.Resource)
	}
}

// LogFailure is the spec §7 convenience path: every propagated failure gets
// one audit entry carrying the actor, client IP, and cause.
func (w *Writer) LogFailure(r *http.Request, companyID, userID *uuid.UUID, resource string, resourceID uuid.UUID, cause error) {
	entry := Entry{
		CompanyID:  companyID,
		UserID:     userID,
		Action:     "failure",
		Resource:   resource,
		ResourceID: resourceID,
		Cause:      cause.Error(),
	}
	if ip := clientIP(r); ip.IsValid() {
		entry.IPAddress = &ip
	}
	if ua := r.Header.Get("User-Agent"); ua != "" {
		entry.UserAgent = &ua
	}
	w.Log(entry)
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range entries {
		_, err := w.pool.Exec(ctx, `
			INSERT INTO audit_log (company_id, user_id, action, resource, resource_id, detail, ip_address, user_agent, cause)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			e.CompanyID, e.UserID, e.Action, e.Resource, nullableUUID(e.ResourceID), e.Detail, e.IPAddress, e.UserAgent, e.Cause,
		)
		if err != nil {
			w.logger.Error("writing audit log entry", "error", err, "action", e.Action, "resource", e.Resource)
		}
	}
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// clientIP extracts the client IP address from the request, preferring
// X-Forwarded-For and X-Real-IP headers over RemoteAddr.
func clientIP(r *http.Request) netip.Addr {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if addr, err := netip.ParseAddr(strings.TrimSpace(parts[0])); err == nil {
			return addr
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, _ := netip.ParseAddr(host)
	return addr
}
