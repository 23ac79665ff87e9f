package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"riskstream/internal/models"
	"riskstream/pkg/retry"
	"riskstream/pkg/utils"
)

// ============================================================
// RiskJournal Tests
// ============================================================

var journalTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "fatal"})
}

func testSnapshot(tick uint64) *models.Snapshot {
	return &models.Snapshot{
		Tick:      tick,
		Timestamp: journalTime,
		Prices:    map[string]float64{"AAPL": 181, "MSFT": 349},
		Strategies: []models.Strategy{
			{
				ID:   1,
				Name: "Long-Term Growth",
				Positions: []models.Position{
					{Quantity: 100, DailyPnL: 100, TotalPnL: 100},
					{Quantity: 50, DailyPnL: -50, TotalPnL: -50},
				},
				RiskMetrics: models.RiskMetrics{Exposure: 35550, RiskLimit: 53325, VaR95: 600, VaR99: 850, MaxDrawdown: 0.01, Volatility: 0.25},
			},
			{ID: 2, Name: "Empty"},
		},
	}
}

func expectRows(mock sqlmock.Sqlmock, tick int64) *sqlmock.ExpectedExec {
	return mock.ExpectExec(`INSERT INTO strategy_risk`).
		WithArgs(
			tick, journalTime, 1, "Long-Term Growth", 35550.0, 600.0, 850.0, 0.01, 0.25, 53325.0, 50.0, 50.0,
			tick, journalTime, 2, "Empty", 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0,
		)
}

func TestRecordsFromSnapshot(t *testing.T) {
	recs := RecordsFromSnapshot(testSnapshot(7))
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	r := recs[0]
	if r.Tick != 7 || r.StrategyID != 1 || r.Strategy != "Long-Term Growth" {
		t.Errorf("unexpected identity fields: %+v", r)
	}
	if r.DailyPnL != 50 || r.TotalPnL != 50 {
		t.Errorf("PnL must be summed over positions, got daily=%v total=%v", r.DailyPnL, r.TotalPnL)
	}
	if r.RiskLimit != 53325 || !r.RecordedAt.Equal(journalTime) {
		t.Errorf("unexpected metrics: %+v", r)
	}
}

func TestRiskJournalEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS strategy_risk`).WillReturnResult(sqlmock.NewResult(0, 0))

	j := NewRiskJournal(db, JournalOptions{}, quietLogger())
	if err := j.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRiskJournalInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	expectRows(mock, 3).WillReturnResult(sqlmock.NewResult(0, 2))

	j := NewRiskJournal(db, JournalOptions{}, quietLogger())
	if err := j.Insert(context.Background(), RecordsFromSnapshot(testSnapshot(3))); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := j.Insert(context.Background(), nil); err != nil {
		t.Fatalf("empty Insert must be a no-op: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRiskJournalInsertSchemaErrorIsPermanent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO strategy_risk`).WillReturnError(&pq.Error{Code: "42P01", Message: "relation does not exist"})

	j := NewRiskJournal(db, JournalOptions{}, quietLogger())
	err = j.Insert(context.Background(), RecordsFromSnapshot(testSnapshot(1)))
	if err == nil {
		t.Fatal("expected error")
	}
	if retry.IsRetryable(err) {
		t.Error("undefined table must not be retried")
	}

	if retry.IsRetryable(classify(errors.New("connection refused"))) == false {
		t.Error("network errors must stay retryable")
	}
}

func TestRiskJournalRunFlushesFullBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	expectRows(mock, 1).WillReturnResult(sqlmock.NewResult(0, 2))

	j := NewRiskJournal(db, JournalOptions{BatchSize: 2, FlushInterval: time.Hour}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	j.Publish(testSnapshot(1))

	deadline := time.Now().Add(2 * time.Second)
	for mock.ExpectationsWereMet() != nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRiskJournalRunDrainsOnStop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	expectRows(mock, 5).WillReturnResult(sqlmock.NewResult(0, 2))

	j := NewRiskJournal(db, JournalOptions{BatchSize: 100, FlushInterval: time.Hour}, quietLogger())
	j.Publish(testSnapshot(5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := j.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("pending rows must be written on stop: %v", err)
	}

	// После остановки снапшоты не принимаются
	j.Publish(testSnapshot(6))
	if len(j.queue) != 0 {
		t.Errorf("closed journal must ignore Publish, queue=%d", len(j.queue))
	}
}

func TestRiskJournalWriteRetries(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	expectRows(mock, 2).WillReturnError(errors.New("connection reset by peer"))
	expectRows(mock, 2).WillReturnResult(sqlmock.NewResult(0, 2))

	j := NewRiskJournal(db, JournalOptions{MaxRetries: 1}, quietLogger())
	j.write(context.Background(), RecordsFromSnapshot(testSnapshot(2)))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expected one retry: %v", err)
	}
}

func TestRiskJournalPublishDropsWhenFull(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	j := NewRiskJournal(db, JournalOptions{BufferSize: 1}, quietLogger())
	j.Publish(testSnapshot(1))
	j.Publish(testSnapshot(2))

	if len(j.queue) != 1 {
		t.Fatalf("expected 1 queued snapshot, got %d", len(j.queue))
	}
	if got := <-j.queue; got.Tick != 1 {
		t.Errorf("expected first snapshot kept, got tick %d", got.Tick)
	}
}
