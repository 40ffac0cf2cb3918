package pg

import (
	"context"
	"strconv"
	"time"

	"github.com/skygenesisenterprise/aether-broker/internal/store/core"
)

// ---------- webhooks ----------

const webhookColumns = `
	id, url, secret, events, description, is_active,
	timeout_ms, retry_count, created_by, created_at, updated_at`

func (s *Store) CreateWebhook(ctx context.Context, w *core.Webhook) error {
	events := w.Events
	if events == nil {
		events = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhooks (`+webhookColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		w.ID, w.URL, w.Secret, events, w.Description, w.IsActive,
		w.Timeout.Milliseconds(), w.RetryCount, w.CreatedBy, w.CreatedAt, w.UpdatedAt)
	return mapErr(err)
}

func (s *Store) UpdateWebhook(ctx context.Context, w *core.Webhook) error {
	events := w.Events
	if events == nil {
		events = []string{}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhooks
		SET url = $2, events = $3, description = $4, is_active = $5,
		    timeout_ms = $6, retry_count = $7, updated_at = $8
		WHERE id = $1`,
		w.ID, w.URL, events, w.Description, w.IsActive,
		w.Timeout.Milliseconds(), w.RetryCount, w.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func scanWebhook(row interface{ Scan(...any) error }) (*core.Webhook, error) {
	var w core.Webhook
	var timeoutMS int64
	if err := row.Scan(
		&w.ID, &w.URL, &w.Secret, &w.Events, &w.Description, &w.IsActive,
		&timeoutMS, &w.RetryCount, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	w.Timeout = time.Duration(timeoutMS) * time.Millisecond
	return &w, nil
}

func (s *Store) GetWebhook(ctx context.Context, id string) (*core.Webhook, error) {
	return scanWebhook(s.pool.QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id))
}

func (s *Store) ListWebhooks(ctx context.Context, f core.WebhookFilter) ([]*core.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE TRUE`
	var args []any
	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		query += ` AND is_active = $` + strconv.Itoa(len(args))
	}
	if f.CreatedBy != "" {
		args = append(args, f.CreatedBy)
		query += ` AND created_by = $` + strconv.Itoa(len(args))
	}
	if f.Event != "" {
		args = append(args, f.Event)
		query += ` AND $` + strconv.Itoa(len(args)) + ` = ANY(events)`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*core.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) ListActiveWebhooksForEvent(ctx context.Context, eventType string) ([]*core.Webhook, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE is_active AND $1 = ANY(events)`, eventType)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*core.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ---------- deliveries ----------

const deliveryColumns = `
	id, webhook_id, event_type, payload, response, status_code,
	success, attempts, max_attempts, delivered_at, next_retry_at, created_at`

func (s *Store) CreateDelivery(ctx context.Context, d *core.WebhookDelivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (`+deliveryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		d.ID, d.WebhookID, d.EventType, d.Payload, d.Response, d.StatusCode,
		d.Success, d.Attempts, d.MaxAttempts, d.DeliveredAt, d.NextRetryAt, d.CreatedAt)
	return mapErr(err)
}

func scanDelivery(row interface{ Scan(...any) error }) (*core.WebhookDelivery, error) {
	var d core.WebhookDelivery
	if err := row.Scan(
		&d.ID, &d.WebhookID, &d.EventType, &d.Payload, &d.Response, &d.StatusCode,
		&d.Success, &d.Attempts, &d.MaxAttempts, &d.DeliveredAt, &d.NextRetryAt, &d.CreatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	return &d, nil
}

// ListPendingRetries: por webhook+evento, sólo el registro más reciente
// elegible, así el sweep no duplica reintentos de la misma secuencia.
func (s *Store) ListPendingRetries(ctx context.Context, now time.Time) ([]*core.WebhookDelivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (webhook_id, event_type) `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE success = FALSE
		  AND attempts < max_attempts
		  AND next_retry_at IS NOT NULL
		  AND next_retry_at <= $1
		ORDER BY webhook_id, event_type, created_at DESC`, now)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*core.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ListRecentDeliveries(ctx context.Context, webhookID string, limit int) ([]*core.WebhookDelivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, webhookID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*core.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) GetDeliveryStats(ctx context.Context, webhookID string) (core.DeliveryStats, error) {
	var st core.DeliveryStats
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE success),
		       count(*) FILTER (WHERE NOT success)
		FROM webhook_deliveries WHERE webhook_id = $1`, webhookID).
		Scan(&st.Total, &st.Successful, &st.Failed)
	if err != nil {
		return core.DeliveryStats{}, mapErr(err)
	}
	return st, nil
}

func (s *Store) PurgeDeliveries(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM webhook_deliveries WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, mapErr(err)
	}
	return int(tag.RowsAffected()), nil
}
