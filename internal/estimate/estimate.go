// Package estimate computes the federal refund snapshot stored with an intake.
package estimate

import (
	_ "embed"
	"math"
	"regexp"
	"strconv"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var defaultTables []byte

// Bracket taxes income up to UpTo at Rate. UpTo == 0 means no upper bound.
type Bracket struct {
	UpTo float64 `yaml:"upto"`
	Rate float64 `yaml:"rate"`
}

// Year holds one tax year's parameters keyed by filing status.
type Year struct {
	StandardDeduction map[string]float64   `yaml:"standard_deduction"`
	Brackets          map[string][]Bracket `yaml:"brackets"`
}

// Tables maps tax year to parameters.
type Tables struct {
	Years map[int]Year `yaml:"years"`
}

// Input carries the parsed monetary fields of an intake.
type Input struct {
	FilingYear         int
	FilingStatus       string
	Wages              float64
	Income1099         float64
	InvestmentIncome   float64
	Retirement         float64
	Mortgage           float64
	Charity            float64
	StudentLoan        float64
	HSA                float64
	FederalWithholding float64
}

// Snapshot is the cached estimate saved at submission time.
type Snapshot struct {
	Income      float64 `json:"estimated_income"`
	Taxable     float64 `json:"estimated_taxable"`
	Tax         float64 `json:"estimated_tax"`
	Withholding float64 `json:"estimated_withholding"`
	Refund      float64 `json:"estimated_refund"`
}

// Estimator computes snapshots from a table set.
type Estimator struct {
	tables Tables
}

// Load parses YAML tables.
func Load(data []byte) (*Estimator, error) {
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "estimate: parse tables")
	}
	if len(t.Years) == 0 {
		return nil, eris.New("estimate: no tax years defined")
	}
	return &Estimator{tables: t}, nil
}

// Default returns the estimator for the embedded 2022-2025 tables.
func Default() *Estimator {
	e, err := Load(defaultTables)
	if err != nil {
		panic(err)
	}
	return e
}

// Supports reports whether the year/status pair has a table.
func (e *Estimator) Supports(year int, status string) bool {
	y, ok := e.tables.Years[year]
	if !ok {
		return false
	}
	_, ok = y.Brackets[status]
	return ok
}

// Compute returns nil when the year or filing status has no table.
func (e *Estimator) Compute(in Input) *Snapshot {
	y, ok := e.tables.Years[in.FilingYear]
	if !ok {
		return nil
	}
	brackets, ok := y.Brackets[in.FilingStatus]
	if !ok {
		return nil
	}

	income := in.Wages + in.Income1099 + in.InvestmentIncome + in.Retirement
	itemized := in.Mortgage + in.Charity + in.StudentLoan
	deduction := math.Max(y.StandardDeduction[in.FilingStatus], itemized)
	taxable := math.Max(0, income-in.HSA-deduction)
	tax := progressiveTax(taxable, brackets)

	return &Snapshot{
		Income:      cents(income),
		Taxable:     cents(taxable),
		Tax:         cents(tax),
		Withholding: cents(in.FederalWithholding),
		Refund:      cents(in.FederalWithholding - tax),
	}
}

func progressiveTax(income float64, brackets []Bracket) float64 {
	if income <= 0 {
		return 0
	}
	var tax, lastCap float64
	for _, b := range brackets {
		if income <= lastCap {
			break
		}
		upper := income
		if b.UpTo > 0 && b.UpTo < income {
			upper = b.UpTo
		}
		tax += (upper - lastCap) * b.Rate
		if b.UpTo == 0 {
			break
		}
		lastCap = b.UpTo
	}
	return tax
}

func cents(v float64) float64 {
	return math.Round(v*100) / 100
}

var nonAmount = regexp.MustCompile(`[^0-9.-]`)

// ToAmount parses user-entered money ("$52,000.50") and returns 0 when empty
// or unparseable.
func ToAmount(raw string) float64 {
	cleaned := nonAmount.ReplaceAllString(raw, "")
	if cleaned == "" {
		return 0
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return leadingFloat(cleaned)
	}
	return v
}

// leadingFloat mimics lenient parsing of inputs such as "12.5.3" -> 12.5.
func leadingFloat(s string) float64 {
	for end := len(s); end > 0; end-- {
		if v, err := strconv.ParseFloat(s[:end], 64); err == nil {
			return v
		}
	}
	return 0
}
