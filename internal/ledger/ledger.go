package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable means the ledger could not be reached. Callers must not
	// read it as a zero balance.
	ErrUnavailable = errors.New("ledger unreachable")
	// ErrRowNotFound means the ledger is reachable but has no row for the id.
	ErrRowNotFound = errors.New("ledger row not found")
)

// Row is one profile row of the ledger.
type Row struct {
	Personal    string
	Name        string
	Email       string
	Password    string
	Phone       string
	Balance     decimal.Decimal
	LoginNumber int64
}

// Accessor reads and writes profile rows in the ledger-of-record.
type Accessor interface {
	GetRow(ctx context.Context, personal string) (*Row, error)
	// UpsertRow writes profile fields. An existing row keeps its balance and
	// its login number when it already has one.
	UpsertRow(ctx context.Context, row Row) error
	UpdateBalance(ctx context.Context, personal string, balance decimal.Decimal) error
	AssignLoginNumber(ctx context.Context, personal string) (int64, error)
}

// column layout of Profiles!A:G
const (
	colPersonal = iota
	colName
	colEmail
	colPassword
	colPhone
	colBalance
	colLoginNumber
)

func cell(values []any, idx int) string {
	if idx >= len(values) || values[idx] == nil {
		return ""
	}
	switch v := values[idx].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// parseRow converts one sheet row. Unparseable balances read as zero, the
// same way an empty balance cell does.
func parseRow(values []any) Row {
	r := Row{
		Personal: cell(values, colPersonal),
		Name:     cell(values, colName),
		Email:    cell(values, colEmail),
		Password: cell(values, colPassword),
		Phone:    cell(values, colPhone),
		Balance:  decimal.Zero,
	}
	if raw := strings.ReplaceAll(cell(values, colBalance), ",", ""); raw != "" {
		if bal, err := decimal.NewFromString(raw); err == nil {
			r.Balance = bal
		}
	}
	r.LoginNumber = parseLoginNumber(cell(values, colLoginNumber))
	return r
}

func parseLoginNumber(raw string) int64 {
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return 0
		}
		n = int64(f)
	}
	if n < 0 {
		return 0
	}
	return n
}

func (r Row) values() []any {
	login := ""
	if r.LoginNumber > 0 {
		login = strconv.FormatInt(r.LoginNumber, 10)
	}
	return []any{r.Personal, r.Name, r.Email, r.Password, r.Phone, r.Balance.String(), login}
}

// findRow returns the index of personal within rows, or -1.
func findRow(rows [][]any, personal string) int {
	personal = strings.TrimSpace(personal)
	for i, values := range rows {
		if cell(values, colPersonal) == personal {
			return i
		}
	}
	return -1
}

// nextLoginNumber returns one above the highest login number in rows.
func nextLoginNumber(rows [][]any) int64 {
	var maxNum int64
	for _, values := range rows {
		if n := parseLoginNumber(cell(values, colLoginNumber)); n > maxNum {
			maxNum = n
		}
	}
	return maxNum + 1
}
