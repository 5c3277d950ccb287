package users

import (
	"context"
	"errors"
	"strings"

	"github.com/suPer8Hu/gopherchat/internal/apperr"
	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/models"
	"gorm.io/gorm"
)

const searchLimit = 20

// likeEscaper makes LIKE wildcards in user input literal under ESCAPE '!'.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

type Service struct {
	db  *gorm.DB
	dir *auth.Directory
}

func NewService(db *gorm.DB, dir *auth.Directory) *Service {
	return &Service{db: db, dir: dir}
}

// Session is returned by Register and Login.
type Session struct {
	User  models.UserSummary `json:"user"`
	Token string             `json:"token"`
}

func (s *Service) Register(ctx context.Context, email, username, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)

	var cnt int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ? OR username = ?", email, username).
		Count(&cnt).Error; err != nil {
		return nil, apperr.Internal(err)
	}
	if cnt > 0 {
		return nil, apperr.Conflict("Email or username already exists")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	user := models.User{
		ID:           common.NewUUID(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		// lost a race against a concurrent registration
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflict("Email or username already exists")
		}
		return nil, apperr.Internal(err)
	}
	return s.session(&user)
}

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("User")
		}
		return nil, apperr.Internal(err)
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, apperr.Unauthorized()
	}
	return s.session(&user)
}

// Search matches usernames case-insensitively, never returning the caller.
func (s *Service) Search(ctx context.Context, query, excludeUserID string) ([]models.UserSummary, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, apperr.Validation("Username is required")
	}

	var found []models.User
	q := s.db.WithContext(ctx).
		Where("LOWER(username) LIKE ? ESCAPE '!'", "%"+likeEscaper.Replace(query)+"%").
		Order("username ASC").
		Limit(searchLimit)
	if excludeUserID != "" {
		q = q.Where("id <> ?", excludeUserID)
	}
	if err := q.Find(&found).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	out := make([]models.UserSummary, 0, len(found))
	for i := range found {
		out = append(out, found[i].Summary())
	}
	return out, nil
}

func (s *Service) Profile(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("User")
		}
		return nil, apperr.Internal(err)
	}
	return &user, nil
}

func (s *Service) session(u *models.User) (*Session, error) {
	token, err := s.dir.Issue(auth.Identity{UserID: u.ID, Username: u.Username, Email: u.Email})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &Session{User: u.Summary(), Token: token}, nil
}
