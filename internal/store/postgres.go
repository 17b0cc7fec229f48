package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/autolister/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Listings ---

const listingColumns = `id, year, make, model, mileage, price, body_style, exterior_color, interior_color,
	vehicle_condition, fuel_type, transmission, description, images_path, image_folder,
	deleted_at, created_at, updated_at`

func scanListing(row rowScanner) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(&l.ID, &l.Year, &l.Make, &l.Model, &l.Mileage, &l.Price, &l.BodyStyle,
		&l.ExteriorColor, &l.InteriorColor, &l.VehicleCondition, &l.FuelType, &l.Transmission,
		&l.Description, &l.ImagesPath, &l.ImageFolder, &l.DeletedAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) queryListings(ctx context.Context, op, query string, args ...any) ([]*models.Listing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	listings := []*models.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// ListListings returns listings that are not soft-deleted, oldest first.
func (s *PostgresStore) ListListings(ctx context.Context) ([]*models.Listing, error) {
	return s.queryListings(ctx, "list listings",
		`SELECT `+listingColumns+` FROM listings WHERE deleted_at IS NULL ORDER BY id`)
}

// ListDeletedListings returns soft-deleted listings, most recently deleted first.
func (s *PostgresStore) ListDeletedListings(ctx context.Context) ([]*models.Listing, error) {
	return s.queryListings(ctx, "list deleted listings",
		`SELECT `+listingColumns+` FROM listings WHERE deleted_at IS NOT NULL ORDER BY deleted_at DESC`)
}

// GetListing returns a listing whether or not it is soft-deleted.
func (s *PostgresStore) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	l, err := scanListing(s.pool.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) CreateListing(ctx context.Context, l *models.Listing) error {
	l.Clamp()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO listings (year, make, model, mileage, price, body_style, exterior_color, interior_color,
		   vehicle_condition, fuel_type, transmission, description, images_path, image_folder)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id, created_at, updated_at`,
		l.Year, l.Make, l.Model, l.Mileage, l.Price, l.BodyStyle, l.ExteriorColor, l.InteriorColor,
		l.VehicleCondition, l.FuelType, l.Transmission, l.Description, l.ImagesPath, l.ImageFolder,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create listing: %w", err)
	}
	return nil
}

// UpdateListing overwrites every editable field of an active listing.
func (s *PostgresStore) UpdateListing(ctx context.Context, l *models.Listing) error {
	l.Clamp()
	err := s.pool.QueryRow(ctx,
		`UPDATE listings SET year = $2, make = $3, model = $4, mileage = $5, price = $6, body_style = $7,
		   exterior_color = $8, interior_color = $9, vehicle_condition = $10, fuel_type = $11,
		   transmission = $12, description = $13, images_path = $14, image_folder = $15, updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING created_at, updated_at`,
		l.ID, l.Year, l.Make, l.Model, l.Mileage, l.Price, l.BodyStyle, l.ExteriorColor, l.InteriorColor,
		l.VehicleCondition, l.FuelType, l.Transmission, l.Description, l.ImagesPath, l.ImageFolder,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteListing(ctx context.Context, id int64) error {
	return s.execOne(ctx, "soft delete listing",
		`UPDATE listings SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
}

func (s *PostgresStore) RestoreListing(ctx context.Context, id int64) error {
	return s.execOne(ctx, "restore listing",
		`UPDATE listings SET deleted_at = NULL, updated_at = NOW() WHERE id = $1 AND deleted_at IS NOT NULL`, id)
}

// PermanentlyDeleteListing removes a listing and, by cascade, its scheduled jobs.
func (s *PostgresStore) PermanentlyDeleteListing(ctx context.Context, id int64) error {
	return s.execOne(ctx, "permanently delete listing", `DELETE FROM listings WHERE id = $1`, id)
}

// --- Profile locations ---

func (s *PostgresStore) ListProfileLocations(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT folder_name, location FROM profile_locations`)
	if err != nil {
		return nil, fmt.Errorf("list profile locations: %w", err)
	}
	defer rows.Close()

	locations := map[string]string{}
	for rows.Next() {
		var folder, location string
		if err := rows.Scan(&folder, &location); err != nil {
			return nil, fmt.Errorf("scan profile location: %w", err)
		}
		locations[folder] = location
	}
	return locations, rows.Err()
}

func (s *PostgresStore) UpsertProfileLocation(ctx context.Context, folderName, location string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profile_locations (folder_name, location, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (folder_name) DO UPDATE SET location = EXCLUDED.location, updated_at = NOW()`,
		models.Truncate(folderName, models.ProfileNameMax), models.Truncate(location, models.LocationMax))
	if err != nil {
		return fmt.Errorf("upsert profile location: %w", err)
	}
	return nil
}

// --- Scheduled jobs ---

const scheduledJobColumns = `id, listing_id, profile_name, profile_path, location, scheduled_at, next_run_at,
	status, recurrence, error_message, created_at, updated_at`

func scanScheduledJob(row rowScanner) (*models.ScheduledJob, error) {
	var j models.ScheduledJob
	err := row.Scan(&j.ID, &j.ListingID, &j.ProfileName, &j.ProfilePath, &j.Location, &j.ScheduledAt,
		&j.NextRunAt, &j.Status, &j.Recurrence, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) queryScheduledJobs(ctx context.Context, op, query string, args ...any) ([]*models.ScheduledJob, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	jobs := []*models.ScheduledJob{}
	for rows.Next() {
		j, err := scanScheduledJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CreateScheduledJob queues a pending entry whose first run is ScheduledAt.
func (s *PostgresStore) CreateScheduledJob(ctx context.Context, job *models.ScheduledJob) error {
	if !job.ScheduledAt.After(s.now()) {
		return ErrScheduleInPast
	}
	if job.Recurrence == "" {
		job.Recurrence = models.RecurrenceNone
	}
	job.ProfileName = models.Truncate(job.ProfileName, models.ProfileNameMax)
	job.ProfilePath = models.Truncate(job.ProfilePath, models.ProfilePathMax)
	job.Location = models.Truncate(job.Location, models.LocationMax)
	job.NextRunAt = job.ScheduledAt
	job.Status = models.ScheduleStatusPending

	err := s.pool.QueryRow(ctx,
		`INSERT INTO scheduled_jobs (listing_id, profile_name, profile_path, location, scheduled_at, next_run_at, status, recurrence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		job.ListingID, job.ProfileName, job.ProfilePath, job.Location, job.ScheduledAt, job.NextRunAt,
		job.Status, job.Recurrence,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("listing %d: %w", job.ListingID, ErrNotFound)
		}
		return fmt.Errorf("create scheduled job: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListScheduledJobs(ctx context.Context, filter ScheduleFilter) ([]*models.ScheduledJob, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.ProfileName != "" {
		conditions = append(conditions, fmt.Sprintf("profile_name = $%d", argIdx))
		args = append(args, filter.ProfileName)
		argIdx++
	}
	if filter.ListingID != 0 {
		conditions = append(conditions, fmt.Sprintf("listing_id = $%d", argIdx))
		args = append(args, filter.ListingID)
		argIdx++
	}
	if !filter.UpcomingAfter.IsZero() {
		conditions = append(conditions, fmt.Sprintf("next_run_at >= $%d", argIdx), "status = 'pending'")
		args = append(args, filter.UpcomingAfter)
	}

	return s.queryScheduledJobs(ctx, "list scheduled jobs",
		`SELECT `+scheduledJobColumns+` FROM scheduled_jobs`+whereClause(conditions)+` ORDER BY scheduled_at ASC`,
		args...)
}

func (s *PostgresStore) GetScheduledJob(ctx context.Context, id int64) (*models.ScheduledJob, error) {
	j, err := scanScheduledJob(s.pool.QueryRow(ctx,
		`SELECT `+scheduledJobColumns+` FROM scheduled_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) UpdateScheduledJob(ctx context.Context, id int64, opts ...ScheduleUpdateOption) error {
	params := &scheduleUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	query := `UPDATE scheduled_jobs SET updated_at = NOW()`
	args := []any{id}
	argIdx := 2
	changed := false

	if params.ScheduledAt != nil {
		query += fmt.Sprintf(", scheduled_at = $%d, next_run_at = $%d", argIdx, argIdx)
		args = append(args, *params.ScheduledAt)
		argIdx++
		changed = true
	}
	if params.Status != nil {
		if !models.ValidScheduleStatus(*params.Status) {
			return fmt.Errorf("invalid scheduled job status %q", *params.Status)
		}
		query += fmt.Sprintf(", status = $%d", argIdx)
		args = append(args, *params.Status)
		argIdx++
		changed = true
	}
	if params.Recurrence != nil {
		if !models.ValidRecurrence(*params.Recurrence) {
			return fmt.Errorf("invalid recurrence %q", *params.Recurrence)
		}
		query += fmt.Sprintf(", recurrence = $%d", argIdx)
		args = append(args, *params.Recurrence)
		changed = true
	}
	if !changed {
		return fmt.Errorf("update scheduled job: no fields to update")
	}

	return s.execOne(ctx, "update scheduled job", query+" WHERE id = $1", args...)
}

func (s *PostgresStore) DeleteScheduledJob(ctx context.Context, id int64) error {
	return s.execOne(ctx, "delete scheduled job", `DELETE FROM scheduled_jobs WHERE id = $1`, id)
}

// ScheduleStats counts entries per status plus pending entries due within a week of now.
func (s *PostgresStore) ScheduleStats(ctx context.Context, now time.Time) (*models.ScheduleStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM scheduled_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count scheduled jobs: %w", err)
	}
	defer rows.Close()

	stats := &models.ScheduleStats{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan schedule count: %w", err)
		}
		stats.Total += n
		switch status {
		case models.ScheduleStatusPending:
			stats.Pending = n
		case models.ScheduleStatusCompleted:
			stats.Completed = n
		case models.ScheduleStatusFailed:
			stats.Failed = n
		case models.ScheduleStatusCancelled:
			stats.Cancelled = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count scheduled jobs: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scheduled_jobs
		 WHERE status = 'pending' AND next_run_at >= $1 AND next_run_at <= $2`,
		now, now.Add(7*24*time.Hour),
	).Scan(&stats.Upcoming7Day)
	if err != nil {
		return nil, fmt.Errorf("count upcoming scheduled jobs: %w", err)
	}
	return stats, nil
}

// ListDue returns pending entries whose next run is at or before before, earliest first.
func (s *PostgresStore) ListDue(ctx context.Context, before time.Time) ([]*models.ScheduledJob, error) {
	return s.queryScheduledJobs(ctx, "list due scheduled jobs",
		`SELECT `+scheduledJobColumns+` FROM scheduled_jobs
		 WHERE status = 'pending' AND next_run_at <= $1 ORDER BY next_run_at ASC`, before)
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id int64) error {
	return s.execOne(ctx, "mark scheduled job completed",
		`UPDATE scheduled_jobs SET status = 'completed', error_message = NULL, updated_at = NOW() WHERE id = $1`, id)
}

// Reschedule keeps a recurring entry pending with a new next run time.
func (s *PostgresStore) Reschedule(ctx context.Context, id int64, next time.Time) error {
	return s.execOne(ctx, "reschedule scheduled job",
		`UPDATE scheduled_jobs SET status = 'pending', next_run_at = $2, error_message = NULL, updated_at = NOW()
		 WHERE id = $1`, id, next)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id int64, message string) error {
	return s.execOne(ctx, "mark scheduled job failed",
		`UPDATE scheduled_jobs SET status = 'failed', error_message = $2, updated_at = NOW() WHERE id = $1`,
		id, models.Truncate(message, models.ErrorMessageMax))
}

// --- Upload history ---

const uploadColumns = `id, profile_name, profile_folder, listing_id, vehicle_info, status, error_message,
	location, marketplace_url, attempt_number, scheduled_job_id, upload_datetime, updated_at`

func scanUpload(row rowScanner) (*models.UploadRecord, error) {
	var u models.UploadRecord
	err := row.Scan(&u.ID, &u.ProfileName, &u.ProfileFolder, &u.ListingID, &u.VehicleInfo, &u.Status,
		&u.ErrorMessage, &u.Location, &u.MarketplaceURL, &u.AttemptNumber, &u.ScheduledJobID,
		&u.UploadedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) RecordUpload(ctx context.Context, rec *models.UploadRecord) error {
	rec.Clamp()
	if rec.Status == "" {
		rec.Status = models.UploadStatusPending
	}
	if rec.AttemptNumber <= 0 {
		rec.AttemptNumber = 1
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = s.now().UTC()
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO upload_history (profile_name, profile_folder, listing_id, vehicle_info, status, error_message,
		   location, marketplace_url, attempt_number, scheduled_job_id, upload_datetime)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, updated_at`,
		rec.ProfileName, rec.ProfileFolder, rec.ListingID, rec.VehicleInfo, rec.Status, rec.ErrorMessage,
		rec.Location, rec.MarketplaceURL, rec.AttemptNumber, rec.ScheduledJobID, rec.UploadedAt,
	).Scan(&rec.ID, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUploadStatus(ctx context.Context, id int64, status string, opts ...UploadUpdateOption) error {
	params := &uploadUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	query := `UPDATE upload_history SET status = $2, updated_at = NOW()`
	args := []any{id, status}
	argIdx := 3

	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, models.Truncate(*params.ErrorMessage, models.ErrorMessageMax))
		argIdx++
	}
	if params.MarketplaceURL != nil {
		query += fmt.Sprintf(", marketplace_url = $%d", argIdx)
		args = append(args, models.Truncate(*params.MarketplaceURL, models.MarketplaceURLMax))
	}

	return s.execOne(ctx, "update upload status", query+" WHERE id = $1", args...)
}

// uploadConditions builds the WHERE conditions for filter, starting at
// placeholder argIdx.
func uploadConditions(filter UploadFilter, withStatus bool) ([]string, []any, int) {
	var conditions []string
	var args []any
	argIdx := 1

	if filter.ProfileName != "" {
		conditions = append(conditions, fmt.Sprintf("profile_name = $%d", argIdx))
		args = append(args, filter.ProfileName)
		argIdx++
	}
	if withStatus && filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, fmt.Sprintf("upload_datetime >= $%d", argIdx))
		args = append(args, filter.From)
		argIdx++
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, fmt.Sprintf("upload_datetime < $%d", argIdx))
		args = append(args, filter.To)
		argIdx++
	}
	return conditions, args, argIdx
}

// ListUploads returns one page of upload history, newest first, and the
// total number of matching records.
func (s *PostgresStore) ListUploads(ctx context.Context, filter UploadFilter) ([]*models.UploadRecord, int, error) {
	conditions, args, argIdx := uploadConditions(filter, true)
	where := whereClause(conditions)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM upload_history"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count uploads: %w", err)
	}

	_, limit, offset := Paginate(filter.Page, filter.Limit)
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM upload_history%s ORDER BY upload_datetime DESC LIMIT $%d OFFSET $%d`,
		uploadColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	uploads, err := s.queryUploads(ctx, "list uploads", dataQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	return uploads, total, nil
}

// ExportUploads returns every matching record, newest first.
func (s *PostgresStore) ExportUploads(ctx context.Context, filter UploadFilter) ([]*models.UploadRecord, error) {
	conditions, args, _ := uploadConditions(filter, true)
	return s.queryUploads(ctx, "export uploads",
		`SELECT `+uploadColumns+` FROM upload_history`+whereClause(conditions)+` ORDER BY upload_datetime DESC`,
		args...)
}

// CountUploadsByStatus applies filter without its status so the breakdown
// covers every status.
func (s *PostgresStore) CountUploadsByStatus(ctx context.Context, filter UploadFilter) (*models.UploadStatusCounts, error) {
	conditions, args, _ := uploadConditions(filter, false)
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM upload_history`+whereClause(conditions)+` GROUP BY status`, args...)
	if err != nil {
		return nil, fmt.Errorf("count uploads by status: %w", err)
	}
	defer rows.Close()

	counts := &models.UploadStatusCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan upload count: %w", err)
		}
		counts.Add(status, n)
	}
	return counts, rows.Err()
}

// UploadStats aggregates the last days days of uploads. days is clamped to
// 1..365 and defaults to 30.
func (s *PostgresStore) UploadStats(ctx context.Context, days int) (*models.UploadStats, error) {
	if days <= 0 {
		days = DefaultStatsDays
	}
	if days > MaxStatsDays {
		days = MaxStatsDays
	}
	since := s.now().UTC().AddDate(0, 0, -days)

	rows, err := s.pool.Query(ctx,
		`SELECT status, profile_name, COUNT(*) FROM upload_history
		 WHERE upload_datetime >= $1 GROUP BY status, profile_name`, since)
	if err != nil {
		return nil, fmt.Errorf("upload stats: %w", err)
	}
	defer rows.Close()

	stats := &models.UploadStats{ByProfile: map[string]int{}, PeriodDays: days}
	for rows.Next() {
		var status, profile string
		var n int
		if err := rows.Scan(&status, &profile, &n); err != nil {
			return nil, fmt.Errorf("scan upload stats: %w", err)
		}
		stats.ByStatus.Add(status, n)
		stats.ByProfile[profile] += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("upload stats: %w", err)
	}

	stats.TotalUploads = stats.ByStatus.Total
	if stats.TotalUploads > 0 {
		rate := float64(stats.ByStatus.Success) / float64(stats.TotalUploads) * 100
		stats.SuccessRate = math.Round(rate*100) / 100
	}
	return stats, nil
}

func (s *PostgresStore) queryUploads(ctx context.Context, op, query string, args ...any) ([]*models.UploadRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	uploads := []*models.UploadRecord{}
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "revoke api key",
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
}

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// execOne runs a statement that must touch exactly one row.
func (s *PostgresStore) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func whereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}
