package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
)

func TestRepository_Checkpoint(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	repo := NewRepository(mock)

	mock.ExpectQuery(`SELECT last_sequence`).WithArgs("inventory", "order-1").WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO event_dedup_checkpoint`).WithArgs("inventory", "order-1", int64(3)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT last_sequence`).WithArgs("inventory", "order-1").
		WillReturnRows(pgxmock.NewRows([]string{"last_sequence"}).AddRow(int64(3)))

	if _, found, err := repo.GetLastSequence(ctx, "inventory", "order-1"); err != nil || found {
		t.Fatalf("expected no checkpoint, got found=%v err=%v", found, err)
	}
	if err := repo.UpsertLastSequence(ctx, "inventory", "order-1", 3); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	last, found, err := repo.GetLastSequence(ctx, "inventory", "order-1")
	if err != nil || !found || last != 3 {
		t.Fatalf("expected checkpoint 3, got %d %v %v", last, found, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestJSONOutcomes(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := NewJSONOutcomes(NewRepository(mock), func(o outcome) string { return o.Status })

	mock.ExpectExec(`INSERT INTO order_outcome`).
		WithArgs("o-1", "COMMITTED", []byte(`{"status":"COMMITTED"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT payload\s+FROM order_outcome`).WithArgs("o-1").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow([]byte(`{"status":"COMMITTED"}`)))
	mock.ExpectQuery(`SELECT payload\s+FROM order_outcome`).WithArgs("o-2").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT payload\s+FROM order_outcome`).WithArgs("o-3").WillReturnError(errors.New("conn reset"))

	if err := store.Save(ctx, "o-1", outcome{Status: "COMMITTED"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, found, err := store.Load(ctx, "o-1")
	if err != nil || !found || got.Status != "COMMITTED" {
		t.Fatalf("load o-1: %+v %v %v", got, found, err)
	}
	if _, found, err := store.Load(ctx, "o-2"); err != nil || found {
		t.Fatalf("load o-2: found=%v err=%v", found, err)
	}
	if _, _, err := store.Load(ctx, "o-3"); err == nil {
		t.Fatalf("expected load error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
