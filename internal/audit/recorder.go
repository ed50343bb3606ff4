package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"flowgate/internal/models"
)

// Entry is one auditable event. Grants, revocations and workflow
// transitions all land here, forming the append-only trail.
type Entry struct {
	OrgID         int64
	UserID        int64
	Action        string
	ResourceType  string
	ResourceID    string
	Metadata      map[string]any
	IP            string
	InitiatorName string
}

type Recorder struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewRecorder(db *gorm.DB, log zerolog.Logger) *Recorder {
	return &Recorder{db: db, log: log}
}

// Record writes an audit row. Failures are logged, not returned: an audit
// write must never fail the operation it describes.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	var meta []byte
	if len(e.Metadata) > 0 {
		meta, _ = json.Marshal(e.Metadata)
	}
	row := models.AuditLog{
		EventID:       uuid.NewString(),
		OrgID:         e.OrgID,
		UserID:        e.UserID,
		Action:        e.Action,
		ResourceType:  e.ResourceType,
		ResourceID:    e.ResourceID,
		Metadata:      meta,
		IP:            e.IP,
		InitiatorName: e.InitiatorName,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.log.Error().Err(err).Str("action", e.Action).Msg("audit write failed")
	}
}
