// Package user provides read access to user profile records. Profiles are
// owned by the identity collaborator; jobs reference them by id and this
// store never copies profile data into job records.
package user

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/convhub/convhub/errors"
)

// User is a profile record referenced by jobs.
type User struct {
	ID              string   `json:"id"`
	Username        string   `json:"username"`
	Email           string   `json:"email"`
	PictureRef      string   `json:"picture_ref,omitempty"`
	PreferredFields []string `json:"preferred_fields"`
	JobIDs          []string `json:"job_ids"`
}

// Store reads and maintains the user profile mirror.
type Store struct {
	db *sql.DB
}

// NewStore creates a user store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const userColumns = `id, username, email, picture_ref, preferred_fields, job_ids`

// Create inserts a user profile record.
func (s *Store) Create(ctx context.Context, u *User) error {
	preferred, err := json.Marshal(emptyIfNil(u.PreferredFields))
	if err != nil {
		return errors.Wrap(err, "failed to marshal preferred fields")
	}
	jobIDs, err := json.Marshal(emptyIfNil(u.JobIDs))
	if err != nil {
		return errors.Wrap(err, "failed to marshal job ids")
	}

	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		u.ID, u.Username, u.Email, u.PictureRef, string(preferred), string(jobIDs))
	if err != nil {
		return errors.Wrapf(err, "failed to create user %s", u.ID)
	}
	return nil
}

// FetchByID retrieves a user profile. Returns ErrNotFound if absent.
func (s *Store) FetchByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	var (
		u         User
		preferred string
		jobIDs    string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.Email, &u.PictureRef, &preferred, &jobIDs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound("user %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch user %s", id)
	}

	if err := json.Unmarshal([]byte(preferred), &u.PreferredFields); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal preferred fields for user %s", id)
	}
	if err := json.Unmarshal([]byte(jobIDs), &u.JobIDs); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal job ids for user %s", id)
	}
	return &u, nil
}

// FetchUsernameByID resolves a user id to its display username.
func (s *Store) FetchUsernameByID(ctx context.Context, id string) (string, error) {
	var username string
	err := s.db.QueryRowContext(ctx, "SELECT username FROM users WHERE id = ?", id).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.NewNotFound("user %s", id)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch username for user %s", id)
	}
	return username, nil
}

// FetchApplicants resolves a list of applicant user ids to their profiles.
// Unknown ids are skipped so a stale applicant entry cannot break the whole
// applicant listing.
func (s *Store) FetchApplicants(ctx context.Context, userIDs []string) ([]*User, error) {
	users := make([]*User, 0, len(userIDs))
	for _, id := range userIDs {
		u, err := s.FetchByID(ctx, id)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// UpdatePreferredFields replaces the user's preferred category tags.
func (s *Store) UpdatePreferredFields(ctx context.Context, id string, fields []string) error {
	preferred, err := json.Marshal(emptyIfNil(fields))
	if err != nil {
		return errors.Wrap(err, "failed to marshal preferred fields")
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET preferred_fields = ? WHERE id = ?", string(preferred), id)
	if err != nil {
		return errors.Wrapf(err, "failed to update preferred fields for user %s", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read update result")
	}
	if affected == 0 {
		return errors.NewNotFound("user %s", id)
	}
	return nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
