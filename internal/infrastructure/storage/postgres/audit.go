package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	appctx "stockrecon/internal/core/context"
	"stockrecon/internal/core/id"
	"stockrecon/internal/domain/reconciliation"
)

// CompressionAlgo names how Changes is stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// AuditRecord is a row of sys_audit.
type AuditRecord struct {
	ID                id.ID           `db:"id" json:"id"`
	EntityType        string          `db:"entity_type" json:"entityType"`
	EntityID          id.ID           `db:"entity_id" json:"entityId"`
	Action            string          `db:"action" json:"action"`
	UserID            string          `db:"user_id" json:"userId"`
	Changes           json.RawMessage `db:"changes" json:"changes"`
	ChangesCompressed []byte          `db:"changes_compressed" json:"-"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo" json:"-"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
}

var _ reconciliation.AuditLog = (*AuditService)(nil)

// AuditService stores change sets, compressing large ones with zstd.
type AuditService struct {
	txm               *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

// NewAuditService creates the service. Change sets larger than threshold
// bytes are compressed; 0 selects 10KB.
func NewAuditService(txm *TxManager, threshold int) (*AuditService, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	if threshold <= 0 {
		threshold = 10 * 1024
	}
	return &AuditService{txm: txm, encoder: encoder, decoder: decoder, compressThreshold: threshold}, nil
}

// Record implements reconciliation.AuditLog. Only changed fields are kept.
func (s *AuditService) Record(ctx context.Context, entry reconciliation.AuditEntry) error {
	changes, err := json.Marshal(Diff(entry.Before, entry.After))
	if err != nil {
		return fmt.Errorf("marshal audit changes: %w", err)
	}
	return s.insert(ctx, s.prepare(ctx, AuditRecord{
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Changes:    changes,
	}))
}

func (s *AuditService) prepare(ctx context.Context, rec AuditRecord) AuditRecord {
	if rec.UserID == "" {
		rec.UserID = appctx.GetUserID(ctx)
	}
	if id.IsNil(rec.ID) {
		rec.ID = id.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.CompressionAlgo = CompressionNone
	if len(rec.Changes) > s.compressThreshold {
		rec.ChangesCompressed = s.encoder.EncodeAll(rec.Changes, nil)
		rec.Changes = nil
		rec.CompressionAlgo = CompressionZstd
	}
	return rec
}

func (s *AuditService) insert(ctx context.Context, rec AuditRecord) error {
	_, err := s.txm.Querier(ctx).Exec(ctx, `
		INSERT INTO sys_audit (id, entity_type, entity_id, action, user_id,
			changes, changes_compressed, compression_algo, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.EntityType, rec.EntityID, rec.Action, rec.UserID,
		rec.Changes, rec.ChangesCompressed, rec.CompressionAlgo, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// History returns the newest entries for an entity with changes decompressed.
func (s *AuditService) History(ctx context.Context, entityType string, entityID id.ID, limit int) ([]AuditRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var records []AuditRecord
	if err := pgxscan.Select(ctx, s.txm.Querier(ctx), &records, `
		SELECT id, entity_type, entity_id, action, user_id,
		       changes, changes_compressed, compression_algo, created_at
		FROM sys_audit
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, entityType, entityID, limit); err != nil {
		return nil, fmt.Errorf("select audit history: %w", err)
	}
	for i := range records {
		if err := s.inflate(&records[i]); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (s *AuditService) inflate(rec *AuditRecord) error {
	if rec.CompressionAlgo != CompressionZstd {
		return nil
	}
	raw, err := s.decoder.DecodeAll(rec.ChangesCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress audit %s: %w", rec.ID, err)
	}
	rec.Changes = raw
	rec.ChangesCompressed = nil
	rec.CompressionAlgo = CompressionNone
	return nil
}

// Diff returns {"field": {"old": x, "new": y}} for every field that differs.
// A nil old state records every new field.
func Diff(oldState, newState map[string]any) map[string]any {
	changes := make(map[string]any)
	for key, newVal := range newState {
		oldVal, ok := oldState[key]
		if !ok || !reflect.DeepEqual(oldVal, newVal) {
			changes[key] = map[string]any{"old": oldVal, "new": newVal}
		}
	}
	for key, oldVal := range oldState {
		if _, ok := newState[key]; !ok {
			changes[key] = map[string]any{"old": oldVal, "new": nil}
		}
	}
	return changes
}
