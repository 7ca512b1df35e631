package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"helpdesk-ingest-go/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write collides with a unique index
	ErrDuplicate = errors.New("duplicate record")
)

// IsUniqueViolation reports whether err comes from a unique index. Drivers
// only return gorm.ErrDuplicatedKey when error translation is enabled, so the
// message is checked as well.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// Repository is the gorm-backed case, exchange, counter and mailbox store
type Repository struct {
	db *gorm.DB
}

// New creates a repository over db
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// DB exposes the underlying handle for callers that compose transactions
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Transaction runs fn inside a single database transaction
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// NextSequence atomically increments the named counter and returns the new value
func (r *Repository) NextSequence(ctx context.Context, name string) (int64, error) {
	db := r.db.WithContext(ctx)

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"seq": gorm.Expr("seq + 1")}),
	}).Create(&model.Counter{Name: name, Seq: 1}).Error
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}

	var counter model.Counter
	if err := db.Where("name = ?", name).First(&counter).Error; err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", name, err)
	}
	return counter.Seq, nil
}

// CreateCase inserts a case
func (r *Repository) CreateCase(ctx context.Context, c *model.Case) error {
	if err := r.db.WithContext(ctx).Omit("Exchanges").Create(c).Error; err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

// FindOpenCaseByOrigin finds the open case opened by requester whose
// originating message identifier equals token. It returns nil when none match.
func (r *Repository) FindOpenCaseByOrigin(ctx context.Context, requester, token string) (*model.Case, error) {
	var c model.Case
	result := r.db.WithContext(ctx).
		Where("requester_email = ? AND origin_token = ? AND is_complete = ?", requester, token, false).
		First(&c)
	if result.Error == nil {
		return &c, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("database error finding case by origin: %w", result.Error)
}

// FindCaseByOrigin finds any case whose originating message identifier equals token
func (r *Repository) FindCaseByOrigin(ctx context.Context, token string) (*model.Case, error) {
	var c model.Case
	result := r.db.WithContext(ctx).Where("origin_token = ?", token).First(&c)
	if result.Error == nil {
		return &c, nil
	}
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("database error finding case by origin: %w", result.Error)
}

// GetCase loads a case, optionally with its exchanges in conversation order
func (r *Repository) GetCase(ctx context.Context, id uint, withExchanges bool) (*model.Case, error) {
	var c model.Case
	q := r.db.WithContext(ctx)
	if withExchanges {
		q = q.Preload("Exchanges", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		})
	}
	if err := q.First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return &c, nil
}

// PriorityStats counts cases per priority. Every known priority is present,
// zero when no case has it. openOnly leaves completed cases out.
func (r *Repository) PriorityStats(ctx context.Context, openOnly bool) (map[string]int64, error) {
	var rows []struct {
		Priority string
		Count    int64
	}
	q := r.db.WithContext(ctx).Model(&model.Case{}).Select("priority, COUNT(*) AS count")
	if openOnly {
		q = q.Where("is_complete = ?", false)
	}
	if err := q.Group("priority").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count cases by priority: %w", err)
	}

	stats := map[string]int64{
		model.PriorityLow:      0,
		model.PriorityMedium:   0,
		model.PriorityHigh:     0,
		model.PriorityCritical: 0,
	}
	for _, row := range rows {
		stats[row.Priority] = row.Count
	}
	return stats, nil
}

// ListCases returns a page of cases, newest first, and the total count
func (r *Repository) ListCases(ctx context.Context, offset, limit int) ([]model.Case, int64, error) {
	var cases []model.Case
	var total int64

	db := r.db.WithContext(ctx)
	if err := db.Model(&model.Case{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count cases: %w", err)
	}
	if err := db.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&cases).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list cases: %w", err)
	}
	return cases, total, nil
}

// SetCaseComplete flips the completion flag
func (r *Repository) SetCaseComplete(ctx context.Context, id uint, complete bool) (*model.Case, error) {
	var c *model.Case
	err := r.Transaction(ctx, func(tx *Repository) error {
		found, err := tx.GetCase(ctx, id, false)
		if err != nil {
			return err
		}
		if err := tx.db.Model(found).Update("is_complete", complete).Error; err != nil {
			return fmt.Errorf("failed to update case status: %w", err)
		}
		found.IsComplete = complete
		c = found
		return nil
	})
	return c, err
}

// AssignCase sets the assignee and returns the updated case and the previous assignee
func (r *Repository) AssignCase(ctx context.Context, id uint, assignee *uint) (*model.Case, *uint, error) {
	var c *model.Case
	var previous *uint
	err := r.Transaction(ctx, func(tx *Repository) error {
		found, err := tx.GetCase(ctx, id, false)
		if err != nil {
			return err
		}
		previous = found.AssigneeID
		if err := tx.db.Model(found).Update("assignee_id", assignee).Error; err != nil {
			return fmt.Errorf("failed to assign case: %w", err)
		}
		found.AssigneeID = assignee
		c = found
		return nil
	})
	return c, previous, err
}

// CreateExchange appends an exchange to a case
func (r *Repository) CreateExchange(ctx context.Context, e *model.Exchange) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("failed to create exchange: %w", err)
	}
	return nil
}

// ListExchanges returns the exchanges of a case in conversation order
func (r *Repository) ListExchanges(ctx context.Context, caseID uint) ([]model.Exchange, error) {
	var exchanges []model.Exchange
	if err := r.db.WithContext(ctx).Where("case_id = ?", caseID).Order("created_at ASC, id ASC").Find(&exchanges).Error; err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	return exchanges, nil
}

// ActiveMailboxes returns mailboxes enabled for polling
func (r *Repository) ActiveMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	var mailboxes []model.Mailbox
	if err := r.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&mailboxes).Error; err != nil {
		return nil, fmt.Errorf("failed to get active mailboxes: %w", err)
	}
	return mailboxes, nil
}

// ListMailboxes returns every mailbox
func (r *Repository) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	var mailboxes []model.Mailbox
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&mailboxes).Error; err != nil {
		return nil, fmt.Errorf("failed to get mailboxes: %w", err)
	}
	return mailboxes, nil
}

// GetMailbox loads one mailbox
func (r *Repository) GetMailbox(ctx context.Context, id uint) (*model.Mailbox, error) {
	var mb model.Mailbox
	if err := r.db.WithContext(ctx).First(&mb, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get mailbox: %w", err)
	}
	return &mb, nil
}

// CreateMailbox inserts a mailbox
func (r *Repository) CreateMailbox(ctx context.Context, mb *model.Mailbox) error {
	mb.Address = strings.ToLower(strings.TrimSpace(mb.Address))
	if mb.HealthStatus == "" {
		mb.HealthStatus = model.HealthUnknown
	}
	if err := r.db.WithContext(ctx).Create(mb).Error; err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("mailbox %s: %w", mb.Address, ErrDuplicate)
		}
		return fmt.Errorf("failed to create mailbox: %w", err)
	}
	return nil
}

// SaveMailbox persists every column of mb
func (r *Repository) SaveMailbox(ctx context.Context, mb *model.Mailbox) error {
	mb.Address = strings.ToLower(strings.TrimSpace(mb.Address))
	if err := r.db.WithContext(ctx).Save(mb).Error; err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("mailbox %s: %w", mb.Address, ErrDuplicate)
		}
		return fmt.Errorf("failed to save mailbox: %w", err)
	}
	return nil
}

// DeleteMailbox removes a mailbox together with its ledger entries, so the
// address can be registered again and a reused ID starts with a clean ledger.
func (r *Repository) DeleteMailbox(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("mailbox_id = ?", id).Delete(&model.ProcessedMessage{}).Error; err != nil {
			return fmt.Errorf("failed to delete ledger entries: %w", err)
		}
		result := tx.Delete(&model.Mailbox{}, id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete mailbox: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SetMailboxActive enables or disables polling for a mailbox
func (r *Repository) SetMailboxActive(ctx context.Context, id uint, active bool) error {
	result := r.db.WithContext(ctx).Model(&model.Mailbox{}).Where("id = ?", id).Update("active", active)
	if result.Error != nil {
		return fmt.Errorf("failed to update mailbox: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertMailbox creates the mailbox or updates the connection settings of the
// existing mailbox with the same address. Health columns are left untouched.
func (r *Repository) UpsertMailbox(ctx context.Context, mb *model.Mailbox) error {
	mb.Address = strings.ToLower(strings.TrimSpace(mb.Address))

	var existing model.Mailbox
	err := r.db.WithContext(ctx).Where("address = ?", mb.Address).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.CreateMailbox(ctx, mb)
	}
	if err != nil {
		return fmt.Errorf("failed to look up mailbox: %w", err)
	}

	err = r.db.WithContext(ctx).Model(&existing).Select(
		"name", "host", "port", "username", "password", "auth_type", "refresh_token",
		"folder", "archive_folder", "search_mode", "insecure_skip_verify", "active",
	).Updates(mb).Error
	if err != nil {
		return fmt.Errorf("failed to update mailbox: %w", err)
	}
	mb.ID = existing.ID
	return nil
}

// UpdateMailboxHealth stores the health columns of a mailbox
func (r *Repository) UpdateMailboxHealth(ctx context.Context, id uint, status string, lastChecked, lastSuccess, lastFailure *time.Time, lastError string) error {
	err := r.db.WithContext(ctx).Model(&model.Mailbox{}).Where("id = ?", id).Updates(map[string]interface{}{
		"health_status":   status,
		"last_checked_at": lastChecked,
		"last_success_at": lastSuccess,
		"last_failure_at": lastFailure,
		"last_error":      lastError,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update mailbox health: %w", err)
	}
	return nil
}

// LogIngest records an ingest attempt
func (r *Repository) LogIngest(ctx context.Context, entry *model.IngestLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to log ingest attempt: %w", err)
	}
	return nil
}

// ListIngestLogs returns a page of ingest logs, newest first, and the total count
func (r *Repository) ListIngestLogs(ctx context.Context, offset, limit int) ([]model.IngestLog, int64, error) {
	var logs []model.IngestLog
	var total int64

	db := r.db.WithContext(ctx)
	if err := db.Model(&model.IngestLog{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count ingest logs: %w", err)
	}
	if err := db.Preload("Mailbox").Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list ingest logs: %w", err)
	}
	return logs, total, nil
}

// GetIngestLog loads one ingest log entry
func (r *Repository) GetIngestLog(ctx context.Context, id uint) (*model.IngestLog, error) {
	var entry model.IngestLog
	if err := r.db.WithContext(ctx).Preload("Mailbox").First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ingest log: %w", err)
	}
	return &entry, nil
}
