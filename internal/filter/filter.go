// Package filter compiles CEL expressions that select rows of the account
// metrics table, e.g. `risk_level == "high" && csm == "Dana"`.
package filter

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/churnguard/internal/domain"
)

// ErrInvalidExpression is returned when an expression fails to compile or
// does not produce a bool.
var ErrInvalidExpression = errors.New("invalid filter expression")

// maxCached bounds the compiled-program cache.
const maxCached = 256

// Compiler builds filters against the account row environment.
// Compiled programs are cached by expression text.
type Compiler struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*Filter
}

// Filter is a compiled row predicate. It is safe for concurrent use.
type Filter struct {
	Expression string
	program    cel.Program
}

// NewCompiler creates a compiler with the row variables declared.
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("account_id", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("csm", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("location_cnt", cel.IntType),
		cel.Variable("period_key", cel.StringType),
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("trending_risk_level", cel.StringType),
		cel.Variable("flag_count", cel.IntType),
		cel.Variable("flags", cel.ListType(cel.StringType)),
		cel.Variable("total_spend", cel.DoubleType),
		cel.Variable("texts_delivered", cel.IntType),
		cel.Variable("coupons_redeemed", cel.IntType),
		cel.Variable("active_subscribers", cel.IntType),
		cel.Variable("spend_delta", cel.DoubleType),
		cel.Variable("texts_delta", cel.IntType),
		cel.Variable("coupons_delta", cel.IntType),
		cel.Variable("subs_delta", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Compiler{
		env:      env,
		compiled: make(map[string]*Filter),
	}, nil
}

// Compile returns the filter for expr, compiling it on first use.
func (c *Compiler) Compile(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}

	c.mu.RLock()
	f, ok := c.compiled[expr]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", ErrInvalidExpression, ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	f = &Filter{Expression: expr, program: program}

	c.mu.Lock()
	if len(c.compiled) >= maxCached {
		c.compiled = make(map[string]*Filter)
	}
	c.compiled[expr] = f
	c.mu.Unlock()

	return f, nil
}

// Validate compile-checks expr without keeping the result.
func (c *Compiler) Validate(expr string) error {
	_, err := c.Compile(expr)
	return err
}

// Match evaluates the filter against one row.
func (f *Filter) Match(row *domain.AccountRow) (bool, error) {
	out, _, err := f.program.Eval(activation(row))
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", f.Expression, err)
	}
	v, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("evaluate %q: non-bool result %v", f.Expression, out.Type())
	}
	return bool(v), nil
}

// Apply returns the rows the filter matches, preserving order.
// A nil filter matches everything.
func (f *Filter) Apply(rows []*domain.AccountRow) ([]*domain.AccountRow, error) {
	if f == nil {
		return rows, nil
	}
	out := make([]*domain.AccountRow, 0, len(rows))
	for _, row := range rows {
		ok, err := f.Match(row)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func activation(row *domain.AccountRow) map[string]any {
	flagCount := 0
	flags := []string{}
	if row.RiskFlags != nil {
		for _, name := range row.RiskFlags.Active() {
			flags = append(flags, string(name))
		}
		flagCount = len(flags)
	}

	return map[string]any{
		"account_id":          row.AccountID,
		"name":                row.Name,
		"csm":                 row.CSM,
		"status":              row.Status,
		"location_cnt":        int64(row.LocationCount),
		"period_key":          row.PeriodKey,
		"risk_level":          string(row.RiskLevel),
		"trending_risk_level": string(row.TrendingRiskLevel),
		"flag_count":          int64(flagCount),
		"flags":               flags,
		"total_spend":         row.TotalSpend,
		"texts_delivered":     row.TotalTextsDelivered,
		"coupons_redeemed":    row.CouponsRedeemed,
		"active_subscribers":  row.ActiveSubscribers,
		"spend_delta":         row.SpendDelta,
		"texts_delta":         row.TextsDelta,
		"coupons_delta":       row.CouponsDelta,
		"subs_delta":          row.SubsDelta,
	}
}
