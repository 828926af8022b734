package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/newswire-engine/internal/domain"
)

var phoneColumns = []string{"id", "owner_id", "state", "attempt_count", "code_expires_at"}

func TestGormPhoneNumberRepoIncrementAttemptsGuardsBudget(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	expires := now.Add(10 * time.Minute)

	tests := []struct {
		name         string
		affected     int64
		current      []driver.Value
		wantAttempts int
		wantErr      error
	}{
		{
			name:         "counts a miss within budget",
			affected:     1,
			current:      []driver.Value{"p1", "u1", "pending", int64(3), expires},
			wantAttempts: 3,
		},
		{
			name:    "budget already spent",
			current: []driver.Value{"p1", "u1", "pending", int64(domain.MaxVerificationAttempts), expires},
			wantErr: domain.ErrTooManyAttempts,
		},
		{
			name:    "number no longer pending",
			current: []driver.Value{"p1", "u1", "verified", int64(0), nil},
			wantErr: domain.ErrConflict,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, rec := newRecordingDB(t)
			repo := NewGormPhoneNumberRepo(db)

			rec.expectExec(tt.affected)
			rec.expectQuery(phoneColumns, tt.current)

			attempts, err := repo.IncrementAttempts(context.Background(), "p1", now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("IncrementAttempts() error = %v, want %v", err, tt.wantErr)
				}
			} else {
				if err != nil {
					t.Fatalf("IncrementAttempts() error = %v", err)
				}
				if attempts != tt.wantAttempts {
					t.Fatalf("attempts = %d, want %d", attempts, tt.wantAttempts)
				}
			}

			stmt := rec.updates(t)[0]
			if got := whereClause(t, stmt); got != `WHERE id = ? AND state = ? AND attempt_count < ?` {
				t.Fatalf("where = %s, want budget-guarded increment", got)
			}
			assertArgs(t, whereArgs(t, stmt, 3), "p1", "pending", int64(domain.MaxVerificationAttempts))
		})
	}
}

func TestGormPhoneNumberRepoMarkVerifiedGuardsCode(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	expires := now.Add(10 * time.Minute)

	tests := []struct {
		name     string
		affected int64
		current  []driver.Value
		wantErr  error
	}{
		{name: "verifies", affected: 1},
		{
			name:    "budget spent by a concurrent miss",
			current: []driver.Value{"p1", "u1", "pending", int64(domain.MaxVerificationAttempts), expires},
			wantErr: domain.ErrTooManyAttempts,
		},
		{
			name:    "code expired",
			current: []driver.Value{"p1", "u1", "pending", int64(1), now.Add(-time.Second)},
			wantErr: domain.ErrCodeExpired,
		},
		{
			name:    "code replaced by a resend",
			current: []driver.Value{"p1", "u1", "pending", int64(0), expires},
			wantErr: domain.ErrCodeMismatch,
		},
		{
			name:    "verified by a concurrent submission",
			current: []driver.Value{"p1", "u1", "verified", int64(0), nil},
			wantErr: domain.ErrConflict,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, rec := newRecordingDB(t)
			repo := NewGormPhoneNumberRepo(db)

			rec.expectExec(tt.affected)
			if tt.current != nil {
				rec.expectQuery(phoneColumns, tt.current)
			}

			err := repo.MarkVerified(context.Background(), "p1", "123456", now)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("MarkVerified() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("MarkVerified() error = %v, want %v", err, tt.wantErr)
			}

			stmt := rec.updates(t)[0]
			want := `WHERE (id = ? AND state = ?) AND (attempt_count < ? AND code_expires_at > ? AND verification_code = ?)`
			if got := whereClause(t, stmt); got != want {
				t.Fatalf("where = %s\nwant    %s", got, want)
			}
			assertArgs(t, whereArgs(t, stmt, 5), "p1", "pending", int64(domain.MaxVerificationAttempts), now, "123456")
		})
	}
}
