package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresBackendSetAndGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	backend := NewPostgresBackend(mock)
	ctx := context.Background()
	value := []byte(`{"name":"Nguyen Van A"}`)

	mock.ExpectExec("INSERT INTO wizard_state").
		WithArgs("s1", "userInfo", value).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT value FROM wizard_state").
		WithArgs("s1", "userInfo").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(value))
	mock.ExpectQuery("SELECT value FROM wizard_state").
		WithArgs("s1", "dateOptions").
		WillReturnError(pgx.ErrNoRows)

	require.NoError(t, backend.Set(ctx, "s1", "userInfo", value))
	got, err := backend.Get(ctx, "s1", "userInfo")
	require.NoError(t, err)
	assert.JSONEq(t, string(value), string(got))

	_, err = backend.Get(ctx, "s1", "dateOptions")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackendClear(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM wizard_state").WithArgs("s1").WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec("DELETE FROM wizard_interactions").WithArgs("s1").WillReturnResult(pgxmock.NewResult("DELETE", 12))
	mock.ExpectCommit()

	require.NoError(t, NewPostgresBackend(mock).Clear(context.Background(), "s1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackendAppendInteractionTrims(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wizard_interactions").
		WithArgs("s1", "no_button_click", []byte(`{"attempt":"1"}`), "https://invite.example/", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM wizard_interactions").
		WithArgs("s1", MaxInteractions).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	err = NewPostgresBackend(mock).AppendInteraction(context.Background(), "s1", Interaction{
		Action:    "no_button_click",
		Details:   map[string]string{"attempt": "1"},
		Timestamp: at,
		URL:       "https://invite.example/",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackendAppendInteractionRollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO wizard_interactions").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = NewPostgresBackend(mock).AppendInteraction(context.Background(), "s1", Interaction{Action: "x", Timestamp: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackendInteractions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT action, details, url, occurred_at").
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"action", "details", "url", "occurred_at"}).
			AddRow("page_view", []byte(`{}`), "https://invite.example/", at).
			AddRow("yes_button_click", []byte(`{"delay":"2s"}`), "", at.Add(time.Second)))

	entries, err := NewPostgresBackend(mock).Interactions(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "page_view", entries[0].Action)
	assert.Equal(t, map[string]string{"delay": "2s"}, entries[1].Details)
	assert.True(t, entries[1].Timestamp.Equal(at.Add(time.Second)))
	require.NoError(t, mock.ExpectationsWereMet())
}
