// Package catalog loads the static option lists, simulated delays and seed
// data shared by every guided flow.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"contractflow/workflow"
)

//go:embed catalog.yaml
var embedded []byte

var ErrInvalidCatalog = errors.New("catalog: invalid")

// Delays holds the fixed durations of the simulated actions.
type Delays struct {
	KYCVerification time.Duration `yaml:"kyc_verification" json:"kycVerification"`
	Payment         time.Duration `yaml:"payment" json:"payment"`
	Signature       time.Duration `yaml:"signature" json:"signature"`
	Consultation    time.Duration `yaml:"consultation" json:"consultation"`
	EscrowRelease   time.Duration `yaml:"escrow_release" json:"escrowRelease"`
}

// ClauseTemplate seeds a negotiation clause.
type ClauseTemplate struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
	Text  string `yaml:"text" json:"text"`
}

// Lawyer is a marketplace directory entry. HourlyRate is in minor units.
type Lawyer struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Specialties []string `yaml:"specialties" json:"specialties"`
	Languages   []string `yaml:"languages" json:"languages"`
	HourlyRate  int64    `yaml:"hourly_rate" json:"hourlyRate"`
	Rating      float64  `yaml:"rating" json:"rating"`
	Verified    bool     `yaml:"verified" json:"verified"`
}

type Catalog struct {
	Version              int                         `yaml:"version" json:"version"`
	Delays               Delays                      `yaml:"delays" json:"delays"`
	ContractTypes        []workflow.Option           `yaml:"contract_types" json:"contractTypes"`
	PaymentSchedules     []workflow.Option           `yaml:"payment_schedules" json:"paymentSchedules"`
	PaymentMethods       []workflow.Option           `yaml:"payment_methods" json:"paymentMethods"`
	Currencies           []string                    `yaml:"currencies" json:"currencies"`
	DocumentTypes        []workflow.Option           `yaml:"document_types" json:"documentTypes"`
	ConsultationPackages []workflow.Option           `yaml:"consultation_packages" json:"consultationPackages"`
	ClauseTemplates      map[string][]ClauseTemplate `yaml:"clause_templates" json:"clauseTemplates"`
	Lawyers              []Lawyer                    `yaml:"lawyers" json:"lawyers"`
}

// Default parses the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(embedded)
}

// MustDefault is Default for callers that cannot recover from a broken build.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a catalog file, falling back to the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that every option list is usable as a selection and that
// the payment and document lists are not empty.
func (c *Catalog) Validate() error {
	lists := map[string][]workflow.Option{
		"contract_types":        c.ContractTypes,
		"payment_schedules":     c.PaymentSchedules,
		"payment_methods":       c.PaymentMethods,
		"document_types":        c.DocumentTypes,
		"consultation_packages": c.ConsultationPackages,
	}
	for name, opts := range lists {
		if len(opts) == 0 {
			return fmt.Errorf("%w: %s is empty", ErrInvalidCatalog, name)
		}
		if _, err := workflow.NewSelection(opts); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, name, err)
		}
	}
	if len(c.Currencies) == 0 {
		return fmt.Errorf("%w: currencies is empty", ErrInvalidCatalog)
	}
	if len(c.ClauseTemplates["default"]) == 0 {
		return fmt.Errorf("%w: default clause templates missing", ErrInvalidCatalog)
	}
	seen := make(map[string]struct{}, len(c.Lawyers))
	for _, l := range c.Lawyers {
		if l.ID == "" {
			return fmt.Errorf("%w: lawyer without id", ErrInvalidCatalog)
		}
		if _, dup := seen[l.ID]; dup {
			return fmt.Errorf("%w: duplicate lawyer %s", ErrInvalidCatalog, l.ID)
		}
		seen[l.ID] = struct{}{}
	}
	for _, d := range []time.Duration{c.Delays.KYCVerification, c.Delays.Payment, c.Delays.Signature, c.Delays.Consultation, c.Delays.EscrowRelease} {
		if d < 0 {
			return fmt.Errorf("%w: negative delay", ErrInvalidCatalog)
		}
	}
	return nil
}

// Clauses returns the clause templates for a contract type, or the defaults.
func (c *Catalog) Clauses(contractType string) []ClauseTemplate {
	src, ok := c.ClauseTemplates[contractType]
	if !ok || len(src) == 0 {
		src = c.ClauseTemplates["default"]
	}
	out := make([]ClauseTemplate, len(src))
	copy(out, src)
	return out
}

// MaxAmount is the largest amount, in minor units, accepted for a contract,
// an escrow or a wallet top-up. Fees in basis points stay within int64 below it.
const MaxAmount int64 = math.MaxInt64 / 10000

// HasCurrency reports whether code is an accepted currency.
func (c *Catalog) HasCurrency(code string) bool {
	for _, cur := range c.Currencies {
		if cur == code {
			return true
		}
	}
	return false
}

// Option looks up an option by id in list.
func Option(list []workflow.Option, id string) (workflow.Option, bool) {
	for _, o := range list {
		if o.ID == id {
			return o, true
		}
	}
	return workflow.Option{}, false
}
