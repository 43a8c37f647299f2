package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/mortal-core/internal/audit"
)

// auditChanSize is the buffer size for the async audit log channel.
// Entries beyond this are dropped (best-effort) to avoid back-pressure on requests.
const auditChanSize = 256

// auditSource tags entries written by the HTTP API.
const auditSource = "api"

// auditLog enqueues an audit log entry for asynchronous write (best-effort).
// If the channel is full the entry is dropped and a warning is logged.
func (s *Server) auditLog(action, entityType string, entityID, userID int64, details map[string]any) {
	if s.auditCh == nil {
		return
	}

	entry := &audit.Entry{
		Action:     action,
		EntityType: entityType,
		Source:     auditSource,
		Details:    details,
	}
	if entityID > 0 {
		entry.EntityID = strconv.FormatInt(entityID, 10)
	}
	if userID > 0 {
		entry.UserID = strconv.FormatInt(userID, 10)
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"action", action,
			"entity_type", entityType,
		)
	}
}

// drainAuditLog reads entries from the audit channel and writes them serially.
// It runs until the context is cancelled, then drains remaining entries.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAudit(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(entry *audit.Entry) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action, entityType, entityId, userId: exact matches
//   - since, until: RFC3339 bounds on createdAt
//   - size, page: page size (default 50, max 200) and 1-based page number
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		s.writeError(w, r, errUnavailable)
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
		UserID:     q.Get("userId"),
	}

	for name, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, CodeDataValidationFailed, "validation failed",
				map[string]string{name: "must be an RFC3339 timestamp"})
			return
		}
		*dst = t
	}

	if size, page := pageParams(r); size > 0 {
		size = min(size, audit.MaxLimit)
		filter.Limit = size
		filter.Offset = (page - 1) * size
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, result)
}
