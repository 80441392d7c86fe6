package postgres

import (
	"context"
	"fmt"
)

type TriggerTotals struct {
	Count         int64 `json:"count"`
	UniqueDevices int64 `json:"unique_devices"`
	Delivered     int64 `json:"delivered"`
	Opened        int64 `json:"opened"`
}

type TriggerBucket struct {
	BucketStart   int64 `json:"bucket_start"`
	Count         int64 `json:"count"`
	UniqueDevices int64 `json:"unique_devices"`
}

// TriggerFilter narrows trigger queries. Empty strings mean "no filter". From and To are epoch
// seconds, inclusive.
type TriggerFilter struct {
	DeviceID string
	Source   string
	From, To int64
}

// where builds the condition over initial notifications (reminders excluded).
func (f TriggerFilter) where() (string, []any) {
	cond := "WHERE n.is_reminder = FALSE AND n.fire_at >= to_timestamp($1) AND n.fire_at <= to_timestamp($2)"
	args := []any{f.From, f.To}
	idx := 3
	if f.DeviceID != "" {
		cond += fmt.Sprintf(" AND n.device_id=$%d", idx)
		args = append(args, f.DeviceID)
		idx++
	}
	if f.Source != "" {
		cond += fmt.Sprintf(" AND n.source=$%d", idx)
		args = append(args, f.Source)
	}
	return cond, args
}

func (db *DB) QueryTriggerTotals(ctx context.Context, f TriggerFilter) (TriggerTotals, error) {
	var res TriggerTotals
	cond, args := f.where()
	sql := `
SELECT
  COUNT(*)::bigint,
  COUNT(DISTINCT n.device_id)::bigint,
  COUNT(*) FILTER (WHERE n.status = 'delivered')::bigint,
  COUNT(*) FILTER (WHERE EXISTS (
    SELECT 1 FROM notification_interactions i
    WHERE i.notification_id = n.id AND i.interaction_type = 'opened'))::bigint
FROM notifications n
` + cond
	row := db.Pool.QueryRow(ctx, sql, args...)
	if err := row.Scan(&res.Count, &res.UniqueDevices, &res.Delivered, &res.Opened); err != nil {
		return res, fmt.Errorf("scan totals: %w", err)
	}
	return res, nil
}

func (db *DB) QueryTriggerBucketsDaily(ctx context.Context, f TriggerFilter) ([]TriggerBucket, error) {
	cond, args := f.where()
	sql := fmt.Sprintf(`
SELECT
  EXTRACT(EPOCH FROM date_trunc('day', n.fire_at))::bigint AS bucket_start,
  COUNT(*)::bigint AS cnt,
  COUNT(DISTINCT n.device_id)::bigint AS uniq
FROM notifications n
%s
GROUP BY 1
ORDER BY 1 ASC`, cond)

	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TriggerBucket
	for rows.Next() {
		var b TriggerBucket
		if err := rows.Scan(&b.BucketStart, &b.Count, &b.UniqueDevices); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
