package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"contractflow/catalog"
)

const dateLayout = "2006-01-02"

// Prompt describes the draft for the generator. Lines starting with "#" are
// instructions.
func (d *Draft) Prompt() string {
	st := d.State()
	var b strings.Builder
	b.WriteString("# Draft a complete contract from the details below.\n")
	b.WriteString("# Keep every clause, use formal language and number the sections.\n")
	writeDetails(&b, d.typeLabel(st.ContractType.Selected), d.scheduleLabel(st.PaymentSchedule.Selected), st)
	return b.String()
}

// Render produces the plain-text contract document.
func (d *Draft) Render() string {
	st := d.State()
	var b strings.Builder
	title := strings.ToUpper(d.typeLabel(st.ContractType.Selected))
	if title == "" {
		title = "CONTRACT"
	}
	fmt.Fprintf(&b, "%s\nReference: %s\n\n", title, st.ID)
	writeDetails(&b, "", d.scheduleLabel(st.PaymentSchedule.Selected), st)
	if st.GeneratedText != "" {
		b.WriteString("\n")
		b.WriteString(st.GeneratedText)
		b.WriteString("\n")
	}
	b.WriteString("\nSignatures\n")
	for _, p := range st.Parties {
		if p.Role == RoleWitness {
			continue
		}
		fmt.Fprintf(&b, "  %s (%s): ____________________\n", p.Name, roleLabel(p.Role))
	}
	return b.String()
}

// Fingerprint is the SHA-256 hex digest of Render.
func (d *Draft) Fingerprint() string {
	sum := sha256.Sum256([]byte(d.Render()))
	return hex.EncodeToString(sum[:])
}

func writeDetails(b *strings.Builder, typeLabel, scheduleLabel string, st State) {
	if typeLabel != "" {
		fmt.Fprintf(b, "Contract type: %s\n", typeLabel)
	}
	b.WriteString("Parties:\n")
	for _, p := range st.Parties {
		fmt.Fprintf(b, "  - %s, %s\n", p.Name, roleLabel(p.Role))
	}
	b.WriteString("Terms:\n")
	fmt.Fprintf(b, "  Scope: %s\n", st.Terms.Scope)
	fmt.Fprintf(b, "  Jurisdiction: %s\n", st.Terms.Jurisdiction)
	fmt.Fprintf(b, "  Start: %s\n", formatDate(st.Terms.StartDate))
	if st.Terms.EndDate != nil {
		fmt.Fprintf(b, "  End: %s\n", formatDate(st.Terms.EndDate))
	}
	if st.Terms.Notes != "" {
		fmt.Fprintf(b, "  Notes: %s\n", st.Terms.Notes)
	}
	b.WriteString("Financials:\n")
	fmt.Fprintf(b, "  Amount: %s %s\n", formatMinor(st.Financials.Amount), st.Financials.Currency)
	if scheduleLabel != "" {
		fmt.Fprintf(b, "  Schedule: %s\n", scheduleLabel)
	}
	if len(st.Clauses) > 0 {
		b.WriteString("Clauses:\n")
		for i, c := range st.Clauses {
			fmt.Fprintf(b, "  %d. %s: %s\n", i+1, c.Title, c.Text)
		}
	}
	if len(st.Documents) > 0 {
		b.WriteString("Attachments:\n")
		for _, doc := range st.Documents {
			fmt.Fprintf(b, "  - %s\n", doc.Name)
		}
	}
}

func (d *Draft) typeLabel(id string) string {
	if o, ok := catalog.Option(d.catalog.ContractTypes, id); ok {
		return o.Label
	}
	return id
}

func (d *Draft) scheduleLabel(id string) string {
	if o, ok := catalog.Option(d.catalog.PaymentSchedules, id); ok {
		return o.Label
	}
	return id
}

func roleLabel(r PartyRole) string {
	switch r {
	case RoleFirstParty:
		return "First party"
	case RoleSecondParty:
		return "Second party"
	case RoleWitness:
		return "Witness"
	}
	return string(r)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(dateLayout)
}

// formatMinor prints minor units with two decimals.
func formatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
