package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"topup-bot/internal/metrics"
)

const (
	profilesRange        = "Profiles!A2:G10000"
	appendRange          = "Profiles!A2:G2"
	firstDataRow         = 2
	defaultRetryInterval = 60 * time.Second
	defaultBreakerDelay  = 30 * time.Second
)

// Config holds Google Sheets ledger configuration.
type Config struct {
	SheetID         string
	CredentialsJSON string
	CredentialsPath string
	RetryInterval   time.Duration
	BreakerDelay    time.Duration
}

// Configured reports whether a sheet and credentials are set.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.SheetID) != "" &&
		(strings.TrimSpace(c.CredentialsJSON) != "" || strings.TrimSpace(c.CredentialsPath) != "")
}

type valuesAPI interface {
	Get(ctx context.Context, rng string) ([][]any, error)
	Update(ctx context.Context, rng string, values [][]any) error
	Append(ctx context.Context, rng string, values [][]any) error
}

type sheetValues struct {
	svc     *sheets.Service
	sheetID string
}

func (v sheetValues) Get(ctx context.Context, rng string) ([][]any, error) {
	resp, err := v.svc.Spreadsheets.Values.Get(v.sheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (v sheetValues) Update(ctx context.Context, rng string, values [][]any) error {
	_, err := v.svc.Spreadsheets.Values.Update(v.sheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

func (v sheetValues) Append(ctx context.Context, rng string, values [][]any) error {
	_, err := v.svc.Spreadsheets.Values.Append(v.sheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// Sheets is the Google Sheets ledger. Until a connection is established
// every call fails with ErrUnavailable.
type Sheets struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	breaker circuitbreaker.CircuitBreaker[any]
	dial    func(ctx context.Context) (valuesAPI, error)

	mu  sync.RWMutex
	api valuesAPI

	// serialises read-then-write sequences (row lookup, login number allocation)
	writeMu sync.Mutex
}

// NewSheets creates a Sheets ledger. Call Connect or Run to establish the client.
func NewSheets(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics) *Sheets {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = defaultBreakerDelay
	}
	log := logger.With("component", "ledger")
	s := &Sheets{
		cfg:     cfg,
		logger:  log,
		metrics: metricRegistry,
		breaker: circuitbreaker.NewBuilder[any]().
			WithFailureThresholdRatio(3, 5).
			WithDelay(cfg.BreakerDelay).
			WithSuccessThreshold(1).
			OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
				log.Warn("ledger circuit breaker state change", "from", event.OldState, "to", event.NewState)
			}).
			Build(),
	}
	s.dial = s.dialSheets
	return s
}

func (s *Sheets) dialSheets(ctx context.Context) (valuesAPI, error) {
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if raw := strings.TrimSpace(s.cfg.CredentialsJSON); raw != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(raw)))
	} else {
		opts = append(opts, option.WithCredentialsFile(s.cfg.CredentialsPath))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return sheetValues{svc: svc, sheetID: s.cfg.SheetID}, nil
}

// Connected reports whether a sheets client is available.
func (s *Sheets) Connected() bool {
	return s.current() != nil
}

// Connect establishes the sheets client if it is not already present.
func (s *Sheets) Connect(ctx context.Context) error {
	if s.Connected() {
		return nil
	}
	if !s.cfg.Configured() {
		return fmt.Errorf("%w: sheet id or credentials not set", ErrUnavailable)
	}
	api, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.mu.Lock()
	s.api = api
	s.mu.Unlock()
	s.logger.Info("ledger connected", "sheet_id", s.cfg.SheetID)
	return nil
}

// Run connects and then retries on a fixed interval while the client is
// absent. It returns when ctx is cancelled.
func (s *Sheets) Run(ctx context.Context) error {
	if !s.cfg.Configured() {
		s.logger.Warn("ledger credentials not provided, ledger disabled")
		return nil
	}
	if err := s.Connect(ctx); err != nil {
		s.logger.Warn("ledger connect failed", "error", err)
	}

	ticker := time.NewTicker(s.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.Connected() {
				continue
			}
			s.logger.Info("attempting ledger re-initialisation")
			if err := s.Connect(ctx); err != nil {
				s.logger.Warn("ledger connect failed", "error", err)
			}
		}
	}
}

func (s *Sheets) current() valuesAPI {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.api
}

// call runs fn through the circuit breaker and maps every failure to ErrUnavailable.
func (s *Sheets) call(ctx context.Context, op string, fn func(api valuesAPI) (any, error)) (any, error) {
	api := s.current()
	if api == nil {
		s.observe(op, "unavailable", 0)
		return nil, fmt.Errorf("%w: not connected", ErrUnavailable)
	}

	start := time.Now()
	res, err := failsafe.With[any](s.breaker).WithContext(ctx).Get(func() (any, error) {
		return fn(api)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			s.observe(op, "circuit_open", time.Since(start))
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		s.observe(op, "error", time.Since(start))
		s.logger.Warn("ledger call failed", "op", op, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
	s.observe(op, "ok", time.Since(start))
	return res, nil
}

func (s *Sheets) readRows(ctx context.Context, op string) ([][]any, error) {
	res, err := s.call(ctx, op, func(api valuesAPI) (any, error) {
		return api.Get(ctx, profilesRange)
	})
	if err != nil {
		return nil, err
	}
	rows, _ := res.([][]any)
	return rows, nil
}

func (s *Sheets) write(ctx context.Context, op, rng string, values []any) error {
	_, err := s.call(ctx, op, func(api valuesAPI) (any, error) {
		return nil, api.Update(ctx, rng, [][]any{values})
	})
	return err
}

func (s *Sheets) appendRow(ctx context.Context, op string, row Row) error {
	_, err := s.call(ctx, op, func(api valuesAPI) (any, error) {
		return nil, api.Append(ctx, appendRange, [][]any{row.values()})
	})
	return err
}

// GetRow returns the ledger row for personal.
func (s *Sheets) GetRow(ctx context.Context, personal string) (*Row, error) {
	rows, err := s.readRows(ctx, "get_row")
	if err != nil {
		return nil, err
	}
	idx := findRow(rows, personal)
	if idx < 0 {
		return nil, ErrRowNotFound
	}
	row := parseRow(rows[idx])
	return &row, nil
}

// UpsertRow appends a new row for row.Personal. An existing row only gets its
// profile columns A:E rewritten; the balance column is owned by UpdateBalance
// and a login number is only filled in when the row has none.
func (s *Sheets) UpsertRow(ctx context.Context, row Row) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rows, err := s.readRows(ctx, "upsert_row")
	if err != nil {
		return err
	}
	idx := findRow(rows, row.Personal)
	if idx < 0 {
		return s.appendRow(ctx, "upsert_row", row)
	}

	n := idx + firstDataRow
	values := row.values()
	if err := s.write(ctx, "upsert_row", fmt.Sprintf("Profiles!A%d:E%d", n, n), values[colPersonal:colBalance]); err != nil {
		return err
	}
	if row.LoginNumber > 0 && parseRow(rows[idx]).LoginNumber == 0 {
		return s.write(ctx, "upsert_row", fmt.Sprintf("Profiles!G%d", n), values[colLoginNumber:])
	}
	return nil
}

// UpdateBalance writes the balance column. A missing row is appended.
func (s *Sheets) UpdateBalance(ctx context.Context, personal string, balance decimal.Decimal) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rows, err := s.readRows(ctx, "update_balance")
	if err != nil {
		return err
	}
	if idx := findRow(rows, personal); idx >= 0 {
		return s.write(ctx, "update_balance", fmt.Sprintf("Profiles!F%d", idx+firstDataRow), []any{balance.String()})
	}
	return s.appendRow(ctx, "update_balance", Row{Personal: strings.TrimSpace(personal), Balance: balance})
}

// AssignLoginNumber returns the existing login number for personal or
// allocates max+1 over the login number column.
func (s *Sheets) AssignLoginNumber(ctx context.Context, personal string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rows, err := s.readRows(ctx, "assign_login_number")
	if err != nil {
		return 0, err
	}
	idx := findRow(rows, personal)
	if idx >= 0 {
		if existing := parseRow(rows[idx]); existing.LoginNumber > 0 {
			return existing.LoginNumber, nil
		}
	}

	next := nextLoginNumber(rows)
	if idx >= 0 {
		err = s.write(ctx, "assign_login_number", fmt.Sprintf("Profiles!G%d", idx+firstDataRow), []any{fmt.Sprint(next)})
	} else {
		err = s.appendRow(ctx, "assign_login_number", Row{Personal: strings.TrimSpace(personal), Balance: decimal.Zero, LoginNumber: next})
	}
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Sheets) observe(op, status string, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.LedgerRequests.WithLabelValues(op, status).Inc()
	if elapsed > 0 {
		s.metrics.LedgerLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	}
}
