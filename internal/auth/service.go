// Package auth はユーザー登録、パスワード認証、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
)

// AttemptRecorder は登録・ログイン試行の結果を記録する。
// metrics.Collectorが実装する。
type AttemptRecorder interface {
	RecordAuthAttempt(action, result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthAttempt(string, string) {}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// RegisterInput はユーザー登録の入力。
type RegisterInput struct {
	Email          string
	Password       string
	RepeatPassword string
	Name           string
}

// dummyPassword は存在しないメールアドレスでのログイン時に照合するダミー。
// ユーザーの有無で応答時間が変わらないようにする。
const dummyPassword = "todoman-timing-equalizer"

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	hasher      PasswordHasher
	config      ServiceConfig
	recorder    AttemptRecorder

	dummyOnce sync.Once
	dummyHash string
}

// NewService はServiceを生成する。recorderがnilの場合は記録しない。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	hasher PasswordHasher,
	config ServiceConfig,
	recorder AttemptRecorder,
) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		hasher:      hasher,
		config:      config,
		recorder:    recorder,
	}
}

// Register は新規ユーザーを作成する。ログインは行わない。
// 検証は必須項目、パスワード一致、パスワード長、メールアドレス重複の順に行う。
func (s *Service) Register(ctx context.Context, in RegisterInput) error {
	if err := validateRegistration(in); err != nil {
		s.recorder.RecordAuthAttempt("register", "failure")
		return err
	}

	existing, err := s.userRepo.FindByEmail(ctx, in.Email)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		s.recorder.RecordAuthAttempt("register", "failure")
		return model.NewEmailTakenError()
	}

	hash, err := s.hasher.Hash(in.Password)
	if errors.Is(err, ErrPasswordTooLong) {
		s.recorder.RecordAuthAttempt("register", "failure")
		return model.NewPasswordTooLongError()
	}
	if err != nil {
		return err
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	// 検索と作成の間に同じメールアドレスが登録された場合もEMAIL_TAKENとする
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			s.recorder.RecordAuthAttempt("register", "failure")
			return model.NewEmailTakenError()
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	s.recorder.RecordAuthAttempt("register", "success")
	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return nil
}

func validateRegistration(in RegisterInput) error {
	if in.Email == "" || in.Password == "" || in.RepeatPassword == "" || in.Name == "" {
		return model.NewMissingFieldsError()
	}
	if in.Password != in.RepeatPassword {
		return model.NewPasswordMismatchError()
	}
	if utf8.RuneCountInString(in.Password) < model.MinPasswordLength {
		return model.NewPasswordTooShortError()
	}
	if len(in.Password) > maxPasswordBytes {
		return model.NewPasswordTooLongError()
	}
	return nil
}

// Login はメールアドレスとパスワードを照合し、セッションを発行する。
// メールアドレスは大文字小文字を区別して完全一致で検索する。
// 失敗時はどちらが誤っていたかを区別しないINVALID_CREDENTIALSを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, *model.Session, error) {
	if email == "" || password == "" {
		s.recorder.RecordAuthAttempt("login", "failure")
		return nil, nil, model.NewMissingFieldsError()
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil {
		_ = s.hasher.Compare(s.timingHash(), password)
		s.recorder.RecordAuthAttempt("login", "failure")
		return nil, nil, model.NewInvalidCredentialsError()
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			s.recorder.RecordAuthAttempt("login", "failure")
			return nil, nil, model.NewInvalidCredentialsError()
		}
		return nil, nil, err
	}

	session, err := s.createSession(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.recorder.RecordAuthAttempt("login", "success")
	slog.Info("user logged in", slog.String("user_id", user.ID))
	return user, session, nil
}

// timingHash はダミーパスワードのハッシュを初回呼び出し時に生成して返す。
func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			slog.Warn("failed to prepare dummy password hash", slog.String("error", err.Error()))
			return
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// Logout はセッションを破棄する。
// セッションIDが空または存在しない場合も成功とする。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// CurrentUser はセッションから現在のユーザーを取得する。
// セッションが無効な場合はUNAUTHENTICATEDを返す。
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthenticatedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthenticatedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthenticatedError()
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, user *model.User) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now().UTC()
	session := &model.Session{
		ID:        sessionID,
		UserID:    user.ID,
		Email:     user.Email,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
