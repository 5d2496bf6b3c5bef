package persistence

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cis-project/cis/internal/infrastructure/persistence/models"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// SessionRecord is the durable projection of an AgentSession (module 16)
// — just enough to let the pool know what it last had bound to a
// workspace after a restart. spec.md §4.6 is explicit that no task
// auto-resumes on a rehydrated session; this repository exists for
// observability and pool bookkeeping, not execution resume.
type SessionRecord struct {
	SessionID  string
	Kind       string
	State      string
	Workspace  string
	LastUsedAt time.Time
}

// SessionRepository persists session rows (spec.md §6 `sessions`).
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository wraps db.
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Save upserts rec.
func (r *SessionRepository) Save(rec SessionRecord) error {
	row := models.SessionModel{
		SessionID:  rec.SessionID,
		Kind:       rec.Kind,
		State:      rec.State,
		Workspace:  rec.Workspace,
		LastUsedAt: rec.LastUsedAt.UnixNano(),
	}
	if err := r.db.Save(&row).Error; err != nil {
		return cerr.Database(fmt.Sprintf("saving session %q", rec.SessionID), err)
	}
	return nil
}

// Get loads the session row for sessionID.
func (r *SessionRepository) Get(sessionID string) (SessionRecord, error) {
	var row models.SessionModel
	if err := r.db.First(&row, "session_id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SessionRecord{}, cerr.NotFound(fmt.Sprintf("session %q not found", sessionID))
		}
		return SessionRecord{}, cerr.Database(fmt.Sprintf("loading session %q", sessionID), err)
	}
	return recordFromSessionRow(row), nil
}

// List returns every persisted session row.
func (r *SessionRepository) List() ([]SessionRecord, error) {
	var rows []models.SessionModel
	if err := r.db.Find(&rows).Error; err != nil {
		return nil, cerr.Database("listing sessions", err)
	}
	recs := make([]SessionRecord, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, recordFromSessionRow(row))
	}
	return recs, nil
}

// Delete removes the session row for sessionID.
func (r *SessionRepository) Delete(sessionID string) error {
	if err := r.db.Delete(&models.SessionModel{}, "session_id = ?", sessionID).Error; err != nil {
		return cerr.Database(fmt.Sprintf("deleting session %q", sessionID), err)
	}
	return nil
}

func recordFromSessionRow(row models.SessionModel) SessionRecord {
	return SessionRecord{
		SessionID:  row.SessionID,
		Kind:       row.Kind,
		State:      row.State,
		Workspace:  row.Workspace,
		LastUsedAt: nanosToTime(row.LastUsedAt),
	}
}
