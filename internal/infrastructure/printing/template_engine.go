package printing

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TemplateEngine handles rendering HTML templates with invoice data.
// It uses Go's html/template package with custom functions for formatting.
type TemplateEngine struct {
	funcMap        template.FuncMap
	currencySymbol string
	dateLayout     string
}

// TemplateEngineOption configures the template engine
type TemplateEngineOption func(*TemplateEngine)

// WithCurrencySymbol sets the symbol formatMoney prepends
func WithCurrencySymbol(symbol string) TemplateEngineOption {
	return func(e *TemplateEngine) {
		e.currencySymbol = symbol
	}
}

// WithDateLayout sets the layout formatDate uses
func WithDateLayout(layout string) TemplateEngineOption {
	return func(e *TemplateEngine) {
		if layout != "" {
			e.dateLayout = layout
		}
	}
}

// NewTemplateEngine creates a new template engine with default configuration
func NewTemplateEngine(opts ...TemplateEngineOption) *TemplateEngine {
	e := &TemplateEngine{dateLayout: "2006-01-02"}
	for _, opt := range opts {
		opt(e)
	}

	e.funcMap = template.FuncMap{
		// Money formatting
		"formatMoney":    e.formatMoney,
		"formatMoneyRaw": formatMoneyRaw,

		// Date formatting
		"formatDate":     e.formatDate,
		"formatDateTime": formatDateTime,

		// Number formatting
		"formatDecimal": formatDecimal,
		"formatPercent": formatPercent,

		// String utilities
		"truncate": truncate,
		"upper":    strings.ToUpper,
		"lower":    strings.ToLower,
		"title":    titleCase,
		"trim":     strings.TrimSpace,

		// Arithmetic and comparison on decimals
		"add": add,
		"sub": sub,
		"mul": mul,
		"gt":  gtFunc,
		"lt":  ltFunc,

		"default":    defaultFunc,
		"shortUUID":  shortUUID,
		"statusText": statusText,
		"seq":        seq,
	}
	return e
}

// Parse compiles a template with the engine's functions
func (e *TemplateEngine) Parse(name, content string) (*template.Template, error) {
	if strings.TrimSpace(content) == "" {
		return nil, failure(ErrEmptyDocument, "template content is empty", nil)
	}
	tmpl, err := template.New(name).Funcs(e.funcMap).Parse(content)
	if err != nil {
		return nil, failure(ErrBadTemplate, "", err)
	}
	return tmpl, nil
}

// Execute runs a parsed template against data
func (e *TemplateEngine) Execute(_ context.Context, tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", failure(ErrRenderFailed, "template execution failed", err)
	}
	return buf.String(), nil
}

// RenderString parses and executes a template string in one step
func (e *TemplateEngine) RenderString(ctx context.Context, name, content string, data any) (string, error) {
	tmpl, err := e.Parse(name, content)
	if err != nil {
		return "", err
	}
	return e.Execute(ctx, tmpl, data)
}

// GetFuncMap returns a copy of the template function map
func (e *TemplateEngine) GetFuncMap() template.FuncMap {
	funcMap := make(template.FuncMap, len(e.funcMap))
	maps.Copy(funcMap, e.funcMap)
	return funcMap
}

// formatMoney formats a decimal value as currency with the configured symbol
// Example: 1234.5 -> "$1,234.50"
func (e *TemplateEngine) formatMoney(v any) string {
	d := toDecimal(v)
	if d.IsNegative() {
		return "-" + e.currencySymbol + formatMoneyRaw(d.Abs())
	}
	return e.currencySymbol + formatMoneyRaw(d)
}

// formatMoneyRaw formats a decimal value with thousand separators and two places
// Example: 1234.56 -> "1,234.56"
func formatMoneyRaw(v any) string {
	d := toDecimal(v)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}

	parts := strings.Split(d.StringFixed(2), ".")
	intPart := parts[0]
	decPart := "00"
	if len(parts) > 1 {
		decPart = parts[1]
	}

	var result strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			result.WriteRune(',')
		}
		result.WriteRune(c)
	}

	return sign + result.String() + "." + decPart
}

func (e *TemplateEngine) formatDate(v any) string {
	t := toTime(v)
	if t.IsZero() {
		return ""
	}
	return t.Format(e.dateLayout)
}

func formatDateTime(v any) string {
	t := toTime(v)
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatDecimal(v any, precision int) string {
	return toDecimal(v).StringFixed(int32(precision))
}

// formatPercent formats a ratio as percentage
// Example: 0.15 -> "15%"
func formatPercent(v any, precision int) string {
	return toDecimal(v).Mul(decimal.NewFromInt(100)).StringFixed(int32(precision)) + "%"
}

// truncate cuts s to max runes including the suffix
func truncate(s string, max int, suffix ...string) string {
	suf := "..."
	if len(suffix) > 0 {
		suf = suffix[0]
	}
	runes := []rune(s)
	sufRunes := []rune(suf)
	if len(runes) <= max {
		return s
	}
	if max <= len(sufRunes) {
		return string(sufRunes[:max])
	}
	return string(runes[:max-len(sufRunes)]) + suf
}

func titleCase(s string) string {
	return cases.Title(language.English).String(strings.ToLower(s))
}

func add(a, b any) decimal.Decimal { return toDecimal(a).Add(toDecimal(b)) }
func sub(a, b any) decimal.Decimal { return toDecimal(a).Sub(toDecimal(b)) }
func mul(a, b any) decimal.Decimal { return toDecimal(a).Mul(toDecimal(b)) }

func gtFunc(a, b any) bool { return toDecimal(a).GreaterThan(toDecimal(b)) }
func ltFunc(a, b any) bool { return toDecimal(a).LessThan(toDecimal(b)) }

func defaultFunc(val, def any) any {
	if val == nil {
		return def
	}
	if s, ok := val.(string); ok && s == "" {
		return def
	}
	return val
}

// shortUUID returns the first 8 characters of a UUID
func shortUUID(id uuid.UUID) string {
	return id.String()[:8]
}

// seq returns 1..n for row numbering
func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// statusText converts status codes to display text
func statusText(status any) string {
	s := strings.ToUpper(strings.TrimSpace(toString(status)))
	statusMap := map[string]string{
		"PENDING":  "Pending",
		"PARTIAL":  "Partially paid",
		"PAID":     "Paid",
		"CLEARED":  "Cleared",
		"RETURNED": "Returned",
		"VOID":     "Void",
		"CASH":     "Cash",
		"CHEQUE":   "Cheque",
		"ONLINE":   "Online transfer",
		"CREDIT":   "Credit",
	}
	if text, ok := statusMap[s]; ok {
		return text
	}
	return titleCase(strings.ReplaceAll(s, "_", " "))
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case interface{ String() string }:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// toDecimal converts various types to decimal.Decimal
func toDecimal(v any) decimal.Decimal {
	switch val := v.(type) {
	case decimal.Decimal:
		return val
	case *decimal.Decimal:
		if val == nil {
			return decimal.Zero
		}
		return *val
	case int:
		return decimal.NewFromInt(int64(val))
	case int64:
		return decimal.NewFromInt(val)
	case float64:
		return decimal.NewFromFloat(val)
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

// toTime converts various types to time.Time
func toTime(v any) time.Time {
	switch val := v.(type) {
	case time.Time:
		return val
	case *time.Time:
		if val == nil {
			return time.Time{}
		}
		return *val
	case string:
		for _, f := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(f, val); err == nil {
				return t
			}
		}
		return time.Time{}
	default:
		return time.Time{}
	}
}
