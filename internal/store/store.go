// Package store provides database operations using GORM.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/devroom-ai/devroom/internal/filetree"
	"github.com/devroom-ai/devroom/internal/model"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// Store wraps GORM DB for database operations.
type Store struct {
	db *gorm.DB
}

// New creates a new Store with the given GORM DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying GORM DB for advanced queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// --- Users ---

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

// ListUsersExcept returns all users except the given one.
func (s *Store) ListUsersExcept(ctx context.Context, userID string) ([]*model.User, error) {
	var users []*model.User
	err := s.db.WithContext(ctx).Where("id <> ?", userID).Find(&users).Error
	return users, err
}

// GetUsersByEmails resolves a set of emails to users. Unknown emails are
// silently skipped.
func (s *Store) GetUsersByEmails(ctx context.Context, emails []string) ([]*model.User, error) {
	var users []*model.User
	err := s.db.WithContext(ctx).Where("email IN ?", emails).Find(&users).Error
	return users, err
}

// --- Projects ---

func (s *Store) GetProjectByID(ctx context.Context, id string) (*model.Project, error) {
	var project model.Project
	if err := s.db.WithContext(ctx).First(&project, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &project, nil
}

func (s *Store) ListProjectsByUser(ctx context.Context, userID string) ([]*model.Project, error) {
	var projects []*model.Project
	err := s.db.WithContext(ctx).
		Joins("JOIN project_members ON project_members.project_id = projects.id").
		Where("project_members.user_id = ?", userID).
		Find(&projects).Error
	return projects, err
}

func (s *Store) CreateProject(ctx context.Context, project *model.Project) error {
	return s.db.WithContext(ctx).Create(project).Error
}

// AddProjectMembers adds users to a project. Existing memberships are left
// untouched, so redundant calls are safe.
func (s *Store) AddProjectMembers(ctx context.Context, projectID string, userIDs []string) error {
	for _, userID := range userIDs {
		member := &model.ProjectMember{ProjectID: projectID, UserID: userID}
		err := s.db.WithContext(ctx).
			Where("project_id = ? AND user_id = ?", projectID, userID).
			FirstOrCreate(member).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) IsProjectMember(ctx context.Context, projectID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ProjectMember{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Count(&count).Error
	return count > 0, err
}

// ListProjectUsers returns the users who are members of a project.
func (s *Store) ListProjectUsers(ctx context.Context, projectID string) ([]*model.User, error) {
	var users []*model.User
	err := s.db.WithContext(ctx).
		Joins("JOIN project_members ON project_members.user_id = users.id").
		Where("project_members.project_id = ?", projectID).
		Find(&users).Error
	return users, err
}

// UpdateProjectFileTree replaces a project's persisted file tree.
func (s *Store) UpdateProjectFileTree(ctx context.Context, projectID string, tree filetree.Tree) error {
	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&model.Project{}).
		Where("id = ?", projectID).
		Update("file_tree", json.RawMessage(data))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Blacklisted tokens ---

func (s *Store) BlacklistToken(ctx context.Context, token string, expiresAt time.Time) error {
	entry := &model.BlacklistedToken{Token: token, ExpiresAt: expiresAt}
	return s.db.WithContext(ctx).
		Where("token = ?", token).
		FirstOrCreate(entry).Error
}

func (s *Store) IsTokenBlacklisted(ctx context.Context, token string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.BlacklistedToken{}).
		Where("token = ? AND expires_at > ?", token, time.Now()).
		Count(&count).Error
	return count > 0, err
}

// DeleteExpiredBlacklistedTokens sweeps blacklist entries whose tokens have
// expired on their own.
func (s *Store) DeleteExpiredBlacklistedTokens(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Delete(&model.BlacklistedToken{}, "expires_at < ?", time.Now()).Error
}
