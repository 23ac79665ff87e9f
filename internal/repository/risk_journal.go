package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"riskstream/internal/models"
	"riskstream/pkg/retry"
	"riskstream/pkg/utils"
)

// Колонок в одной строке strategy_risk
const journalColumns = 12

// Postgres ограничивает число параметров запроса 65535
const maxBatchRows = 65535 / journalColumns

var (
	journalRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskstream",
		Subsystem: "journal",
		Name:      "rows_total",
		Help:      "Journal rows by outcome",
	}, []string{"result"}) // written, failed, dropped
)

// RiskRecord - строка журнала: риск-метрики одной стратегии на одном тике
type RiskRecord struct {
	Tick        uint64
	RecordedAt  time.Time
	StrategyID  int
	Strategy    string
	Exposure    float64
	VaR95       float64
	VaR99       float64
	MaxDrawdown float64
	Volatility  float64
	RiskLimit   float64
	DailyPnL    float64
	TotalPnL    float64
}

// RecordsFromSnapshot раскладывает снапшот на строки журнала
func RecordsFromSnapshot(snap *models.Snapshot) []RiskRecord {
	out := make([]RiskRecord, 0, len(snap.Strategies))
	for _, s := range snap.Strategies {
		rec := RiskRecord{
			Tick:        snap.Tick,
			RecordedAt:  snap.Timestamp,
			StrategyID:  s.ID,
			Strategy:    s.Name,
			Exposure:    s.RiskMetrics.Exposure,
			VaR95:       s.RiskMetrics.VaR95,
			VaR99:       s.RiskMetrics.VaR99,
			MaxDrawdown: s.RiskMetrics.MaxDrawdown,
			Volatility:  s.RiskMetrics.Volatility,
			RiskLimit:   s.RiskMetrics.RiskLimit,
		}
		for _, p := range s.Positions {
			rec.DailyPnL += p.DailyPnL
			rec.TotalPnL += p.TotalPnL
		}
		out = append(out, rec)
	}
	return out
}

// JournalOptions - параметры буферизации журнала
type JournalOptions struct {
	BatchSize     int
	BufferSize    int // снапшотов в очереди
	FlushInterval time.Duration
	MaxRetries    int
}

// RiskJournal - журнал риск-метрик в таблицу strategy_risk
//
// Только запись: состояние движка из журнала не восстанавливается.
// Publish не блокирует тик; при переполнении очереди снапшот теряется.
type RiskJournal struct {
	db    *sql.DB
	opts  JournalOptions
	queue chan *models.Snapshot
	log   *utils.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewRiskJournal создает журнал поверх открытого подключения
func NewRiskJournal(db *sql.DB, opts JournalOptions, logger *utils.Logger) *RiskJournal {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.BatchSize > maxBatchRows {
		opts.BatchSize = maxBatchRows
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if logger == nil {
		logger = utils.L()
	}
	return &RiskJournal{
		db:    db,
		opts:  opts,
		queue: make(chan *models.Snapshot, opts.BufferSize),
		log:   logger.WithComponent("journal"),
		done:  make(chan struct{}),
	}
}

// EnsureSchema создает таблицу журнала, если ее нет
func (j *RiskJournal) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS strategy_risk (
			id BIGSERIAL PRIMARY KEY,
			tick BIGINT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			strategy_id INTEGER NOT NULL,
			strategy_name TEXT NOT NULL,
			exposure DOUBLE PRECISION NOT NULL,
			var95 DOUBLE PRECISION NOT NULL,
			var99 DOUBLE PRECISION NOT NULL,
			max_drawdown DOUBLE PRECISION NOT NULL,
			volatility DOUBLE PRECISION NOT NULL,
			risk_limit DOUBLE PRECISION NOT NULL,
			daily_pnl DOUBLE PRECISION NOT NULL,
			total_pnl DOUBLE PRECISION NOT NULL
		)`

	if _, err := j.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create strategy_risk: %w", err)
	}
	return nil
}

// Publish ставит снапшот в очередь записи
func (j *RiskJournal) Publish(snap *models.Snapshot) {
	select {
	case <-j.done:
		return
	default:
	}
	select {
	case j.queue <- snap:
	default:
		journalRows.WithLabelValues("dropped").Add(float64(len(snap.Strategies)))
		j.log.Warn("Journal queue full, snapshot dropped", utils.Tick(snap.Tick))
	}
}

// Run собирает строки в пачки и пишет их до отмены ctx
//
// При остановке очередь дочитывается и остаток записывается
// с отдельным таймаутом.
func (j *RiskJournal) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.opts.FlushInterval)
	defer ticker.Stop()

	pending := make([]RiskRecord, 0, j.opts.BatchSize)
	flush := func(ctx context.Context) {
		for len(pending) > 0 {
			n := min(len(pending), j.opts.BatchSize)
			j.write(ctx, pending[:n])
			pending = pending[n:]
		}
		pending = make([]RiskRecord, 0, j.opts.BatchSize)
	}

	for {
		select {
		case snap := <-j.queue:
			pending = append(pending, RecordsFromSnapshot(snap)...)
			if len(pending) >= j.opts.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			j.closeOnce.Do(func() { close(j.done) })
		drain:
			for {
				select {
				case snap := <-j.queue:
					pending = append(pending, RecordsFromSnapshot(snap)...)
				default:
					break drain
				}
			}
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			flush(drainCtx)
			cancel()
			j.log.Info("Journal stopped")
			return nil
		}
	}
}

// write записывает одну пачку с повторами; ошибка только логируется
func (j *RiskJournal) write(ctx context.Context, batch []RiskRecord) {
	cfg := retry.JournalConfig(j.opts.MaxRetries + 1)
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		j.log.Warn("Journal write failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	err := retry.Do(ctx, func(ctx context.Context) error {
		return j.Insert(ctx, batch)
	}, cfg)
	if err != nil {
		journalRows.WithLabelValues("failed").Add(float64(len(batch)))
		j.log.Error("Journal batch lost", zap.Int("rows", len(batch)), zap.Error(err))
		return
	}
	journalRows.WithLabelValues("written").Add(float64(len(batch)))
}

// Insert пишет пачку строк одним INSERT
func (j *RiskJournal) Insert(ctx context.Context, batch []RiskRecord) error {
	if len(batch) == 0 {
		return nil
	}
	if len(batch) > maxBatchRows {
		return retry.Permanent(fmt.Errorf("batch of %d rows exceeds %d", len(batch), maxBatchRows))
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO strategy_risk (tick, recorded_at, strategy_id, strategy_name, exposure, var95, var99, max_drawdown, volatility, risk_limit, daily_pnl, total_pnl) VALUES `)
	args := make([]interface{}, 0, len(batch)*journalColumns)
	for i, r := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 0; c < journalColumns; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*journalColumns+c+1)
		}
		sb.WriteByte(')')
		args = append(args,
			int64(r.Tick), r.RecordedAt, r.StrategyID, r.Strategy,
			r.Exposure, r.VaR95, r.VaR99, r.MaxDrawdown,
			r.Volatility, r.RiskLimit, r.DailyPnL, r.TotalPnL,
		)
	}

	_, err := j.db.ExecContext(ctx, sb.String(), args...)
	return classify(err)
}

// classify помечает ошибки схемы и данных как неповторяемые
//
// Класс 42 - синтаксис и права, 22 - некорректные данные, 23 - ограничения.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23", "42":
			return retry.Permanent(err)
		}
	}
	return err
}
