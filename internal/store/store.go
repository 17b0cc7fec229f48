package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/autolister/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrScheduleInPast = errors.New("scheduled time must be in the future")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	ListListings(ctx context.Context) ([]*models.Listing, error)
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	CreateListing(ctx context.Context, listing *models.Listing) error
	UpdateListing(ctx context.Context, listing *models.Listing) error
	SoftDeleteListing(ctx context.Context, id int64) error
	ListDeletedListings(ctx context.Context) ([]*models.Listing, error)
	RestoreListing(ctx context.Context, id int64) error
	PermanentlyDeleteListing(ctx context.Context, id int64) error

	ListProfileLocations(ctx context.Context) (map[string]string, error)
	UpsertProfileLocation(ctx context.Context, folderName, location string) error

	CreateScheduledJob(ctx context.Context, job *models.ScheduledJob) error
	ListScheduledJobs(ctx context.Context, filter ScheduleFilter) ([]*models.ScheduledJob, error)
	GetScheduledJob(ctx context.Context, id int64) (*models.ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id int64, opts ...ScheduleUpdateOption) error
	DeleteScheduledJob(ctx context.Context, id int64) error
	ScheduleStats(ctx context.Context, now time.Time) (*models.ScheduleStats, error)

	ListDue(ctx context.Context, before time.Time) ([]*models.ScheduledJob, error)
	MarkCompleted(ctx context.Context, id int64) error
	Reschedule(ctx context.Context, id int64, next time.Time) error
	MarkFailed(ctx context.Context, id int64, message string) error

	RecordUpload(ctx context.Context, rec *models.UploadRecord) error
	UpdateUploadStatus(ctx context.Context, id int64, status string, opts ...UploadUpdateOption) error
	ListUploads(ctx context.Context, filter UploadFilter) ([]*models.UploadRecord, int, error)
	CountUploadsByStatus(ctx context.Context, filter UploadFilter) (*models.UploadStatusCounts, error)
	ExportUploads(ctx context.Context, filter UploadFilter) ([]*models.UploadRecord, error)
	UploadStats(ctx context.Context, days int) (*models.UploadStats, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

type ScheduleFilter struct {
	Status      string
	ProfileName string
	ListingID   int64
	// UpcomingAfter keeps pending entries whose next run is at or after it.
	UpcomingAfter time.Time
}

// UploadFilter selects upload history. To is exclusive.
type UploadFilter struct {
	ProfileName string
	Status      string
	From        time.Time
	To          time.Time
	Page        int
	Limit       int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	DefaultStatsDays = 30
	MaxStatsDays     = 365
)

// Paginate normalizes page and limit and returns the row offset.
func Paginate(page, limit int) (int, int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if page <= 0 {
		page = 1
	}
	return page, limit, (page - 1) * limit
}

type scheduleUpdateParams struct {
	ScheduledAt *time.Time
	Status      *string
	Recurrence  *string
}

type ScheduleUpdateOption func(*scheduleUpdateParams)

// WithScheduledAt moves both the original and the next run time.
func WithScheduledAt(at time.Time) ScheduleUpdateOption {
	return func(p *scheduleUpdateParams) {
		p.ScheduledAt = &at
	}
}

func WithScheduleStatus(status string) ScheduleUpdateOption {
	return func(p *scheduleUpdateParams) {
		p.Status = &status
	}
}

func WithRecurrence(recurrence string) ScheduleUpdateOption {
	return func(p *scheduleUpdateParams) {
		p.Recurrence = &recurrence
	}
}

type uploadUpdateParams struct {
	ErrorMessage   *string
	MarketplaceURL *string
}

type UploadUpdateOption func(*uploadUpdateParams)

func WithErrorMessage(msg string) UploadUpdateOption {
	return func(p *uploadUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithMarketplaceURL(url string) UploadUpdateOption {
	return func(p *uploadUpdateParams) {
		p.MarketplaceURL = &url
	}
}
