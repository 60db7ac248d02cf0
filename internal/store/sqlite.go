package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type userRow struct {
	ID            int64   `gorm:"primaryKey"`
	Username      string  `gorm:"size:50;not null;uniqueIndex"`
	Email         *string `gorm:"size:320;uniqueIndex"`
	DisplayName   *string `gorm:"size:100"`
	PasswordHash  string  `gorm:"size:255;not null"`
	EmailVerified bool    `gorm:"not null;default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Tasks         []taskRow   `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE"`
	APIKeys       []apiKeyRow `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE"`
}

func (userRow) TableName() string { return "users" }

type taskRow struct {
	ID             int64    `gorm:"primaryKey"`
	OwnerID        int64    `gorm:"column:user_id;not null;index:ix_tasks_user_status,priority:1;index:ix_tasks_user_parent,priority:1;index:ix_tasks_user_created,priority:1"`
	ParentID       *int64   `gorm:"index:ix_tasks_user_parent,priority:2"`
	Title          string   `gorm:"size:255;not null"`
	Description    *string  `gorm:"type:text"`
	Notes          *string  `gorm:"type:text"`
	Status         string   `gorm:"not null;default:todo;index:ix_tasks_user_status,priority:2"`
	Priority       string   `gorm:"not null;default:medium"`
	Category       string   `gorm:"not null;default:personal"`
	Tags           []string `gorm:"serializer:json;not null"`
	DueDate        *time.Time
	CompletedDate  *time.Time
	EstimatedHours *float64
	ActualHours    *float64
	CreatedAt      time.Time `gorm:"index:ix_tasks_user_created,priority:2"`
	UpdatedAt      time.Time
	Subtasks       []taskRow `gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE"`
}

func (taskRow) TableName() string { return "tasks" }

// SQLiteStore is the embedded backend used for local runs and tests. It
// keeps a single connection so transactions are serialized.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the database named by databaseURL,
// enables foreign keys and migrates the schema.
func OpenSQLite(databaseURL string) (*SQLiteStore, error) {
	dsn := sqliteDSN(databaseURL)
	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}

	dbLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         dbLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := db.AutoMigrate(&userRow{}, &taskRow{}, &apiKeyRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(databaseURL string) string {
	dsn := strings.TrimSpace(databaseURL)
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite:") {
		dsn = dsn[len("sqlite:"):]
		dsn = strings.TrimPrefix(dsn, "//")
	}
	if dsn == "" {
		dsn = "./data/taskaza.db"
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + "_foreign_keys=on"
}

// ensureDirForSQLite creates the parent dir for the SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(TaskTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTaskTx{db: tx})
	})
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user User) (User, error) {
	row := userRow{
		Username:     user.Username,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		PasswordHash: user.PasswordHash,
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return row.toUser(), nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	return s.getUser(ctx, "id = ?", userID)
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.getUser(ctx, "username = ?", username)
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, "email = ?", email)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (User, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where(where, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return row.toUser(), nil
}

func (s *SQLiteStore) UpdateUserProfile(ctx context.Context, userID int64, profile UserProfile) (User, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if profile.Username != nil {
		updates["username"] = *profile.Username
	}
	if profile.Email != nil {
		updates["email"] = *profile.Email
	}
	if profile.DisplayName != nil {
		updates["display_name"] = *profile.DisplayName
	}
	if err := s.updateUser(ctx, "update user profile", userID, updates); err != nil {
		return User{}, err
	}
	return s.GetUserByID(ctx, userID)
}

func (s *SQLiteStore) SetEmailVerified(ctx context.Context, userID int64) error {
	return s.updateUser(ctx, "verify user email", userID, map[string]any{
		"email_verified": true,
		"updated_at":     time.Now().UTC(),
	})
}

func (s *SQLiteStore) UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error {
	return s.updateUser(ctx, "update password", userID, map[string]any{
		"password_hash": passwordHash,
		"updated_at":    time.Now().UTC(),
	})
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, userID int64) error {
	result := s.db.WithContext(ctx).Where("id = ?", userID).Delete(&userRow{})
	if result.Error != nil {
		return fmt.Errorf("delete user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) updateUser(ctx context.Context, action string, userID int64, updates map[string]any) error {
	result := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", userID).Updates(updates)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return fmt.Errorf("%s: %w", action, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type gormTaskTx struct {
	db *gorm.DB
}

// LockOwner is a no-op: the store holds one connection, so a transaction
// already excludes every other writer.
func (t *gormTaskTx) LockOwner(context.Context, int64) error {
	return nil
}

func (t *gormTaskTx) GetTask(ctx context.Context, ownerID, taskID int64) (Task, error) {
	var row taskRow
	err := t.db.WithContext(ctx).Where("id = ? AND user_id = ?", taskID, ownerID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return row.toTask(), nil
}

func (t *gormTaskTx) GetTasks(ctx context.Context, ownerID int64, taskIDs []int64) ([]Task, error) {
	if len(taskIDs) == 0 {
		return []Task{}, nil
	}
	var rows []taskRow
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", ownerID, taskIDs).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get tasks: %w", err)
	}
	return toTasks(rows), nil
}

func (t *gormTaskTx) ListChildren(ctx context.Context, ownerID int64, parentIDs []int64) ([]Task, error) {
	if len(parentIDs) == 0 {
		return []Task{}, nil
	}
	var rows []taskRow
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND parent_id IN ?", ownerID, parentIDs).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return toTasks(rows), nil
}

func (t *gormTaskTx) ListTasks(ctx context.Context, ownerID int64, filter TaskFilter) ([]Task, error) {
	query := t.db.WithContext(ctx).Where("user_id = ?", ownerID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Query != "" {
		query = query.Where(`lower(title) LIKE ? ESCAPE '\'`, strings.ToLower(likePattern(filter.Query)))
	}
	if filter.RootsOnly {
		query = query.Where("parent_id IS NULL")
	}
	if filter.Ascending {
		query = query.Order("created_at ASC, id ASC")
	} else {
		query = query.Order("created_at DESC, id DESC")
	}

	var rows []taskRow
	if err := query.Offset(filter.Offset).Limit(filter.Limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return toTasks(rows), nil
}

func (t *gormTaskTx) InsertTask(ctx context.Context, task Task) (Task, error) {
	row := fromTask(task)
	row.ID = 0
	if err := t.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return row.toTask(), nil
}

func (t *gormTaskTx) UpdateTask(ctx context.Context, task Task) (Task, error) {
	row := fromTask(task)
	row.UpdatedAt = time.Now().UTC()
	result := t.db.WithContext(ctx).Model(&taskRow{}).
		Where("id = ? AND user_id = ?", task.ID, task.OwnerID).
		Select(updatableTaskColumns).
		Updates(&row)
	if result.Error != nil {
		return Task{}, fmt.Errorf("update task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return Task{}, ErrNotFound
	}
	return t.GetTask(ctx, task.OwnerID, task.ID)
}

// Selected explicitly so zero values (nil parent, empty tags) are written.
var updatableTaskColumns = []string{
	"parent_id", "title", "description", "notes", "status", "priority", "category", "tags",
	"due_date", "completed_date", "estimated_hours", "actual_hours", "updated_at",
}

func (t *gormTaskTx) SetTaskStatus(ctx context.Context, ownerID, taskID int64, status string) (Task, error) {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if err := t.updateTask(ctx, "set task status", ownerID, taskID, updates); err != nil {
		return Task{}, err
	}
	return t.GetTask(ctx, ownerID, taskID)
}

func (t *gormTaskTx) updateTask(ctx context.Context, action string, ownerID, taskID int64, updates map[string]any) error {
	result := t.db.WithContext(ctx).Model(&taskRow{}).
		Where("id = ? AND user_id = ?", taskID, ownerID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("%s: %w", action, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *gormTaskTx) DeleteTask(ctx context.Context, ownerID, taskID int64) error {
	result := t.db.WithContext(ctx).Where("id = ? AND user_id = ?", taskID, ownerID).Delete(&taskRow{})
	if result.Error != nil {
		return fmt.Errorf("delete task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r userRow) toUser() User {
	return User{
		ID:            r.ID,
		Username:      r.Username,
		Email:         r.Email,
		DisplayName:   r.DisplayName,
		PasswordHash:  r.PasswordHash,
		EmailVerified: r.EmailVerified,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (r taskRow) toTask() Task {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return Task{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		ParentID:       r.ParentID,
		Title:          r.Title,
		Description:    r.Description,
		Notes:          r.Notes,
		Status:         r.Status,
		Priority:       r.Priority,
		Category:       r.Category,
		Tags:           tags,
		DueDate:        r.DueDate,
		CompletedDate:  r.CompletedDate,
		EstimatedHours: r.EstimatedHours,
		ActualHours:    r.ActualHours,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func fromTask(task Task) taskRow {
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	return taskRow{
		ID:             task.ID,
		OwnerID:        task.OwnerID,
		ParentID:       task.ParentID,
		Title:          task.Title,
		Description:    task.Description,
		Notes:          task.Notes,
		Status:         task.Status,
		Priority:       task.Priority,
		Category:       task.Category,
		Tags:           tags,
		DueDate:        task.DueDate,
		CompletedDate:  task.CompletedDate,
		EstimatedHours: task.EstimatedHours,
		ActualHours:    task.ActualHours,
	}
}

func toTasks(rows []taskRow) []Task {
	items := make([]Task, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toTask())
	}
	return items
}
