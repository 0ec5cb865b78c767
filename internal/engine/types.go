package engine

import (
	"strings"

	"github.com/temirov/freightaudit/internal/anomaly"
	"github.com/temirov/freightaudit/internal/costguard"
	"github.com/temirov/freightaudit/internal/gates"
	"github.com/temirov/freightaudit/internal/rates"
	"github.com/temirov/freightaudit/internal/risk"
)

// LineItem is one invoice row. The engine never mutates it.
type LineItem struct {
	Sequence    int     `json:"sequence" yaml:"sequence" validate:"gte=0"`
	Sheet       string  `json:"sheet" yaml:"sheet"`
	Description string  `json:"description" yaml:"description" validate:"required"`
	RateSource  string  `json:"rate_source" yaml:"rate_source"`
	UnitRate    float64 `json:"unit_rate" yaml:"unit_rate"`
	Quantity    float64 `json:"quantity" yaml:"quantity"`
	TotalAmount float64 `json:"total_amount" yaml:"total_amount"`
	Remark      string  `json:"remark" yaml:"remark"`
	Currency    string  `json:"currency" yaml:"currency"`
	Mode        string  `json:"mode" yaml:"mode"`
	Origin      string  `json:"origin" yaml:"origin"`
	Destination string  `json:"destination" yaml:"destination"`
	Unit        string  `json:"unit" yaml:"unit"`
}

// Status is the final verdict of a line item.
type Status string

// Verdicts. CRITICAL is reserved for batch-level escalation and is never derived per item.
const (
	StatusPass         Status = "PASS"
	StatusWarn         Status = "WARN"
	StatusReviewNeeded Status = "REVIEW_NEEDED"
	StatusFail         Status = "FAIL"
	StatusCritical     Status = "CRITICAL"
)

var statusSeverity = map[Status]int{
	StatusPass:         0,
	StatusWarn:         1,
	StatusReviewNeeded: 2,
	StatusFail:         3,
	StatusCritical:     4,
}

// Severity orders statuses from PASS to CRITICAL. Unknown statuses sort below PASS.
func (status Status) Severity() int {
	severity, known := statusSeverity[status]
	if !known {
		return -1
	}
	return severity
}

// ParseStatus accepts a status name case-insensitively.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToUpper(strings.TrimSpace(value)))
	_, known := statusSeverity[status]
	return status, known
}

// ChargeGroup classifies the billing basis of a line item.
type ChargeGroup string

// Charge groups.
const (
	ChargeGroupContractFixed ChargeGroup = "CONTRACT_FIXED"
	ChargeGroupAtCost        ChargeGroup = "AT_COST"
	ChargeGroupPortalFee     ChargeGroup = "PORTAL_FEE"
	ChargeGroupOther         ChargeGroup = "OTHER"
)

// Stage is a step of the per-item state machine.
type Stage string

// Stages in transition order.
const (
	StageRaw           Stage = "RAW"
	StageNormalized    Stage = "NORMALIZED"
	StageRateResolved  Stage = "RATE_RESOLVED"
	StageRateMissing   Stage = "RATE_MISSING"
	StageBanded        Stage = "BANDED"
	StageNotBanded     Stage = "NOT_BANDED"
	StageAnomalyScored Stage = "ANOMALY_SCORED"
	StageRiskBlended   Stage = "RISK_BLENDED"
	StageGated         Stage = "GATED"
	StageFinal         Stage = "FINAL"
)

// Metadata carries side-channel facts about an evaluation.
type Metadata struct {
	NormalizedDescription string   `json:"normalized_description"`
	Lane                  string   `json:"lane,omitempty"`
	DraftRateBase         *float64 `json:"draft_rate_base,omitempty"`
	EvidenceCount         int      `json:"evidence_count"`
	Notes                 []string `json:"notes,omitempty"`
	Stages                []Stage  `json:"stages"`
}

// ValidationResult is the terminal record for one line item.
type ValidationResult struct {
	Item            LineItem               `json:"item"`
	ChargeGroup     ChargeGroup            `json:"charge_group"`
	ReferenceRate   *rates.ReferenceRate   `json:"reference_rate"`
	VariancePercent *float64               `json:"variance_percent"`
	Band            costguard.Band         `json:"band"`
	AutoFail        bool                   `json:"autofail"`
	PortalStatus    costguard.PortalStatus `json:"portal_status,omitempty"`
	Anomaly         anomaly.Score          `json:"anomaly"`
	Risk            risk.Assessment        `json:"risk"`
	Gates           gates.Result           `json:"gates"`
	Status          Status                 `json:"status"`
	Issues          []string               `json:"issues"`
	Metadata        Metadata               `json:"metadata"`
}

// Delta returns the variance percent, or zero when no reference rate was resolved.
func (result ValidationResult) Delta() float64 {
	if result.VariancePercent == nil {
		return 0
	}
	return *result.VariancePercent
}

// Provenance returns the reference rate provenance, or none when unresolved.
func (result ValidationResult) Provenance() rates.Provenance {
	if result.ReferenceRate == nil {
		return rates.ProvenanceNone
	}
	return result.ReferenceRate.Provenance
}
