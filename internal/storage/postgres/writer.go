package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"example.com/geosurvey/internal/domain"
)

type Writer struct {
	db *DB
}

func NewWriter(db *DB) *Writer { return &Writer{db: db} }

// InsertBatch writes notification rows (upserting status by id) and interaction rows
// (ON CONFLICT DO NOTHING on the idempotency key) in one transaction.
func (w *Writer) InsertBatch(ctx context.Context, items []domain.AuditRecord) (int64, error) {
	notes, inters := splitBatch(items)
	if len(notes) == 0 && len(inters) == 0 {
		return 0, nil
	}

	var affected int64
	err := pgx.BeginFunc(ctx, w.db.Pool, func(tx pgx.Tx) error {
		if len(notes) > 0 {
			sql, args := notificationUpsert(notes)
			ct, err := tx.Exec(ctx, sql, args...)
			if err != nil {
				return fmt.Errorf("upsert notifications: %w", err)
			}
			affected += ct.RowsAffected()
		}
		if len(inters) > 0 {
			sql, args := interactionInsert(inters)
			ct, err := tx.Exec(ctx, sql, args...)
			if err != nil {
				return fmt.Errorf("insert interactions: %w", err)
			}
			affected += ct.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// splitBatch separates the two row kinds. A notification that appears more than once keeps only
// its latest record, since one upsert statement cannot touch the same row twice.
func splitBatch(items []domain.AuditRecord) ([]domain.NotificationRecord, []domain.InteractionRecord) {
	var notes []domain.NotificationRecord
	var inters []domain.InteractionRecord
	pos := make(map[string]int)
	seenKey := make(map[string]struct{})
	for _, it := range items {
		if n := it.Notification; n != nil {
			if i, ok := pos[n.ID]; ok {
				notes[i] = *n
				continue
			}
			pos[n.ID] = len(notes)
			notes = append(notes, *n)
		}
		if in := it.Interaction; in != nil {
			if _, ok := seenKey[in.Key]; ok {
				continue
			}
			seenKey[in.Key] = struct{}{}
			inters = append(inters, *in)
		}
	}
	return notes, inters
}

func placeholders(rows, cols int) string {
	var b strings.Builder
	argi := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "$%d", argi)
			argi++
		}
		b.WriteByte(')')
	}
	return b.String()
}

func notificationUpsert(notes []domain.NotificationRecord) (string, []any) {
	cols := []string{"id", "device_id", "source", "title", "body", "deep_link_url", "fire_at", "is_reminder", "status", "updated_at"}
	args := make([]any, 0, len(notes)*len(cols))
	for _, n := range notes {
		var link any
		if n.DeepLinkURL != "" {
			link = n.DeepLinkURL
		}
		args = append(args, n.ID, n.DeviceID, string(n.Source), n.Title, n.Body, link,
			n.FireAt, n.IsReminder, string(n.Status), n.UpdatedAt)
	}
	sql := "INSERT INTO notifications (" + strings.Join(cols, ",") + ") VALUES " +
		placeholders(len(notes), len(cols)) +
		" ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at" +
		" WHERE notifications.updated_at <= EXCLUDED.updated_at"
	return sql, args
}

func interactionInsert(inters []domain.InteractionRecord) (string, []any) {
	cols := []string{"key", "notification_id", "device_id", "interaction_type", "at"}
	args := make([]any, 0, len(inters)*len(cols))
	for _, in := range inters {
		args = append(args, in.Key, in.NotificationID, in.DeviceID, in.InteractionType, in.At)
	}
	sql := "INSERT INTO notification_interactions (" + strings.Join(cols, ",") + ") VALUES " +
		placeholders(len(inters), len(cols)) +
		" ON CONFLICT (key) DO NOTHING"
	return sql, args
}
