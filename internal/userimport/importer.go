// Package userimport moves exported accounts into the auth provider.
package userimport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"photorestore/internal/supabase"
)

// ExportedUser is one row of an auth users export.
type ExportedUser struct {
	ID                string         `json:"id"`
	Email             string         `json:"email"`
	EncryptedPassword string         `json:"encrypted_password"`
	EmailConfirmedAt  *time.Time     `json:"email_confirmed_at"`
	UserMetadata      map[string]any `json:"raw_user_meta_data"`
	AppMetadata       map[string]any `json:"raw_app_meta_data"`
	CreatedAt         time.Time      `json:"created_at"`
}

// LoadExport reads a JSON array of users, or an object with a "users" array.
func LoadExport(path string) ([]ExportedUser, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	var users []ExportedUser
	if err := json.Unmarshal(raw, &users); err == nil {
		return users, nil
	}
	var wrapped struct {
		Users []ExportedUser `json:"users"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	return wrapped.Users, nil
}

type UserAdmin interface {
	CreateUser(ctx context.Context, params supabase.CreateUserParams) (supabase.User, error)
	AllUsers(ctx context.Context, perPage int) ([]supabase.User, error)
}

type Success struct {
	Email string `json:"email"`
	ID    string `json:"id"`
}

type Skip struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

type Failure struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Successes  []Success `json:"successes"`
	Skipped    []Skip    `json:"skipped"`
	Failures   []Failure `json:"failures"`
}

const (
	SkipExisting     = "already exists"
	SkipInvalidHash  = "invalid bcrypt hash"
	SkipMissingEmail = "missing email"
)

type Options struct {
	BatchSize int
	Delay     time.Duration
}

type Importer struct {
	admin UserAdmin
	opts  Options
	log   zerolog.Logger
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewImporter(admin UserAdmin, opts Options, log zerolog.Logger) *Importer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Importer{admin: admin, opts: opts, log: log, sleep: sleepCtx, now: time.Now}
}

// Run creates every importable user, batch by batch with a pause between
// batches. Per-user failures are recorded and the run continues.
func (im *Importer) Run(ctx context.Context, users []ExportedUser) (Report, error) {
	report := Report{
		StartedAt: im.now().UTC(),
		Total:     len(users),
		Successes: []Success{},
		Skipped:   []Skip{},
		Failures:  []Failure{},
	}

	live, err := im.admin.AllUsers(ctx, supabase.DefaultPageSize)
	if err != nil {
		return report, fmt.Errorf("load existing users: %w", err)
	}
	existing := make(map[string]struct{}, len(live))
	for _, u := range live {
		existing[normalizeEmail(u.Email)] = struct{}{}
	}

	for start := 0; start < len(users); start += im.opts.BatchSize {
		if start > 0 && im.opts.Delay > 0 {
			if err := im.sleep(ctx, im.opts.Delay); err != nil {
				return im.finish(report), err
			}
		}
		end := min(start+im.opts.BatchSize, len(users))
		for _, u := range users[start:end] {
			if err := ctx.Err(); err != nil {
				return im.finish(report), err
			}
			im.importOne(ctx, u, existing, &report)
		}
		im.log.Info().
			Int("processed", end).
			Int("total", len(users)).
			Int("failures", len(report.Failures)).
			Msg("batch imported")
	}
	return im.finish(report), nil
}

func (im *Importer) importOne(ctx context.Context, u ExportedUser, existing map[string]struct{}, report *Report) {
	email := normalizeEmail(u.Email)
	switch {
	case email == "":
		report.Skipped = append(report.Skipped, Skip{Email: u.Email, Reason: SkipMissingEmail})
		return
	case has(existing, email):
		report.Skipped = append(report.Skipped, Skip{Email: email, Reason: SkipExisting})
		return
	}
	if u.EncryptedPassword != "" && !validBcrypt(u.EncryptedPassword) {
		report.Skipped = append(report.Skipped, Skip{Email: email, Reason: SkipInvalidHash})
		return
	}

	created, err := im.admin.CreateUser(ctx, supabase.CreateUserParams{
		ID:           u.ID,
		Email:        email,
		PasswordHash: u.EncryptedPassword,
		EmailConfirm: u.EmailConfirmedAt != nil,
		UserMetadata: u.UserMetadata,
		AppMetadata:  u.AppMetadata,
	})
	switch {
	case errors.Is(err, supabase.ErrUserExists):
		report.Skipped = append(report.Skipped, Skip{Email: email, Reason: SkipExisting})
	case err != nil:
		im.log.Warn().Err(err).Str("email", email).Msg("import user failed")
		report.Failures = append(report.Failures, Failure{Email: email, Error: err.Error()})
	default:
		existing[email] = struct{}{}
		report.Successes = append(report.Successes, Success{Email: email, ID: created.ID})
	}
}

func (im *Importer) finish(r Report) Report {
	r.FinishedAt = im.now().UTC()
	return r
}

// validBcrypt accepts only hashes bcrypt can verify against.
func validBcrypt(hash string) bool {
	_, err := bcrypt.Cost([]byte(hash))
	return err == nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func has(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WriteJSON writes v to path, indented.
func WriteJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
