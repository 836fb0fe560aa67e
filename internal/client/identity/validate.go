package identity

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/models"
)

// DefaultTaxRate is applied to quotes when no rate is configured.
const DefaultTaxRate = 0.15

// tolerance is the largest difference accepted between a stored derived
// amount and its recomputed value.
const tolerance = 0.01

// ValidationResult reports what a validator found and whether it changed
// the record.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Issues   []string `json:"issues"`
	Repaired bool     `json:"repaired"`
}

// Validator checks a record of one entity kind and repairs it in place.
// Validators never fail: every problem becomes an issue and a repair.
type Validator interface {
	Validate(rec *models.Record) ValidationResult
}

// Validators dispatches to the validator registered for an entity kind.
type Validators struct {
	byKind map[models.EntityKind]Validator
}

// NewValidators wires the quote, invoice and client validators. A
// non-positive taxRate selects DefaultTaxRate.
func NewValidators(taxRate float64, now func() time.Time) *Validators {
	if taxRate <= 0 || math.IsNaN(taxRate) || math.IsInf(taxRate, 0) {
		taxRate = DefaultTaxRate
	}
	if now == nil {
		now = time.Now
	}
	ph := &placeholders{now: now}
	return &Validators{byKind: map[models.EntityKind]Validator{
		models.EntityQuote:   &QuoteValidator{TaxRate: taxRate, placeholders: ph},
		models.EntityInvoice: &InvoiceValidator{placeholders: ph},
		models.EntityClient:  &ClientValidator{},
	}}
}

// ValidateAndRepair runs the validator for kind. Kinds without a dedicated
// validator only get a structural check.
func (v *Validators) ValidateAndRepair(rec *models.Record, kind models.EntityKind) ValidationResult {
	if rec == nil {
		return ValidationResult{Valid: false, Issues: []string{"record is nil"}}
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	if val, ok := v.byKind[kind]; ok {
		return val.Validate(rec)
	}
	return GenericValidator{}.Validate(rec)
}

// KindForBucket maps a storage bucket to the entity kind it holds.
func KindForBucket(bucket string) models.EntityKind {
	switch strings.ToLower(bucket) {
	case "quotes", "quote":
		return models.EntityQuote
	case "invoices", "invoice":
		return models.EntityInvoice
	case "clients", "client":
		return models.EntityClient
	case "contracts", "contract":
		return models.EntityContract
	}
	return models.EntityGeneric
}

// GenericValidator accepts any record.
type GenericValidator struct{}

func (GenericValidator) Validate(rec *models.Record) ValidationResult {
	return ValidationResult{Valid: true, Issues: []string{}}
}

// QuoteValidator repairs quote numbers, client names, amounts and status.
type QuoteValidator struct {
	TaxRate float64
	*placeholders
}

var quoteStatuses = []string{"draft", "sent", "accepted", "declined", "expired"}

func (q *QuoteValidator) Validate(rec *models.Record) ValidationResult {
	c := &checker{rec: rec}

	c.requireString("quoteNumber", func() string { return q.next("Q") })
	c.requireString("clientName", func() string { return "Unknown Client" })

	subtotal := c.amount("subtotal")
	tax := c.amount("tax")
	total := c.amount("total")

	if want := round2(subtotal * q.TaxRate); math.Abs(tax-want) > tolerance {
		c.fix("tax", want, fmt.Sprintf("tax %.2f does not match subtotal x %.2f; set to %.2f", tax, q.TaxRate, want))
		tax = want
	}
	if want := round2(subtotal + tax); math.Abs(total-want) > tolerance {
		c.fix("total", want, fmt.Sprintf("total %.2f does not match subtotal + tax; set to %.2f", total, want))
	}

	c.enum("status", quoteStatuses, "draft")
	return c.result()
}

// InvoiceValidator repairs invoice numbers, amounts, balance and status.
type InvoiceValidator struct {
	*placeholders
}

var invoiceStatuses = []string{"draft", "sent", "paid", "partial", "overdue", "cancelled"}

func (v *InvoiceValidator) Validate(rec *models.Record) ValidationResult {
	c := &checker{rec: rec}

	c.requireString("invoiceNumber", func() string { return v.next("INV") })

	total := c.amount("total")
	paid := c.amount("amountPaid")

	want := round2(math.Max(0, total-paid))
	balance, ok := number(rec.Fields["balance"])
	if !ok || math.Abs(balance-want) > tolerance {
		c.fix("balance", want, fmt.Sprintf("balance set to %.2f", want))
	}

	c.enum("status", invoiceStatuses, "draft")
	return c.result()
}

// ClientValidator repairs client names, emails and status.
type ClientValidator struct{}

var clientStatuses = []string{"active", "inactive", "lead"}

func (ClientValidator) Validate(rec *models.Record) ValidationResult {
	c := &checker{rec: rec}

	c.requireString("name", func() string { return "Unknown Client" })

	if v, ok := rec.Fields["email"]; ok && v != nil {
		if _, isString := v.(string); !isString {
			delete(rec.Fields, "email")
			c.issue("email is not a string; removed")
		}
	}

	c.enum("status", clientStatuses, "active")
	return c.result()
}

type placeholders struct {
	now func() time.Time
	seq atomic.Int64
}

var looseSeq atomic.Int64

func (p *placeholders) next(prefix string) string {
	if p == nil {
		return fmt.Sprintf("%s-%d-%d", prefix, time.Now().Unix(), looseSeq.Add(1))
	}
	return fmt.Sprintf("%s-%d-%d", prefix, p.now().Unix(), p.seq.Add(1))
}

// checker accumulates issues while repairing one record.
type checker struct {
	rec      *models.Record
	issues   []string
	repaired bool
}

func (c *checker) issue(msg string) {
	c.issues = append(c.issues, msg)
}

func (c *checker) fix(field string, v any, msg string) {
	c.rec.Fields[field] = v
	c.repaired = true
	c.issue(msg)
}

func (c *checker) requireString(field string, placeholder func() string) {
	if s, ok := c.rec.Fields[field].(string); ok && strings.TrimSpace(s) != "" {
		return
	}
	p := placeholder()
	c.fix(field, p, fmt.Sprintf("%s missing; set to %q", field, p))
}

// amount returns a finite non-negative number for field, repairing it to 0
// when it is missing, not numeric, NaN, infinite or negative.
func (c *checker) amount(field string) float64 {
	v, present := c.rec.Fields[field]
	n, ok := number(v)
	switch {
	case !present || v == nil:
		c.fix(field, 0.0, fmt.Sprintf("%s missing; set to 0", field))
		return 0
	case !ok:
		c.fix(field, 0.0, fmt.Sprintf("%s is not a finite number; set to 0", field))
		return 0
	case n < 0:
		c.fix(field, 0.0, fmt.Sprintf("%s is negative; set to 0", field))
		return 0
	}
	return n
}

func (c *checker) enum(field string, allowed []string, def string) {
	if s, ok := c.rec.Fields[field].(string); ok {
		for _, a := range allowed {
			if s == a {
				return
			}
		}
	}
	c.fix(field, def, fmt.Sprintf("%s %v is not one of %s; set to %q",
		field, c.rec.Fields[field], strings.Join(allowed, "/"), def))
}

func (c *checker) result() ValidationResult {
	issues := c.issues
	if issues == nil {
		issues = []string{}
	}
	return ValidationResult{Valid: len(issues) == 0, Issues: issues, Repaired: c.repaired}
}

// number is models.Number without NaN and infinities.
func number(v any) (float64, bool) {
	f, ok := models.Number(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
