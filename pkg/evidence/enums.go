package evidence

import "fmt"

// ExceptionStatus is the lifecycle state of an exception register entry.
type ExceptionStatus string

const (
	ExceptionPending  ExceptionStatus = "Pending"
	ExceptionApproved ExceptionStatus = "Approved"
	ExceptionRejected ExceptionStatus = "Rejected"
	ExceptionExpired  ExceptionStatus = "Expired"
)

// RiskStatus is the treatment state of a risk register entry.
type RiskStatus string

const (
	RiskOpen       RiskStatus = "Open"
	RiskInProgress RiskStatus = "InProgress"
	RiskMitigated  RiskStatus = "Mitigated"
	RiskAccepted   RiskStatus = "Accepted"
	RiskClosed     RiskStatus = "Closed"
)

// Severity is the rating of a risk register entry.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// UnknownValueError reports a value outside a closed enumeration.
type UnknownValueError struct {
	Enum  string
	Value string
}

func (e *UnknownValueError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Enum, e.Value)
}

var exceptionStatuses = map[string]ExceptionStatus{
	"pending":  ExceptionPending,
	"approved": ExceptionApproved,
	"rejected": ExceptionRejected,
	"denied":   ExceptionRejected,
	"expired":  ExceptionExpired,
}

var riskStatuses = map[string]RiskStatus{
	"open":       RiskOpen,
	"inprogress": RiskInProgress,
	"mitigated":  RiskMitigated,
	"accepted":   RiskAccepted,
	"closed":     RiskClosed,
}

var severities = map[string]Severity{
	"low":      SeverityLow,
	"medium":   SeverityMedium,
	"high":     SeverityHigh,
	"critical": SeverityCritical,
}

// ParseExceptionStatus parses an exception status, ignoring case and
// separators.
func ParseExceptionStatus(s string) (ExceptionStatus, error) {
	if v, ok := exceptionStatuses[NormalizeToken(s)]; ok {
		return v, nil
	}
	return "", &UnknownValueError{Enum: "exception status", Value: s}
}

// ParseRiskStatus parses a risk status, ignoring case and separators.
func ParseRiskStatus(s string) (RiskStatus, error) {
	if v, ok := riskStatuses[NormalizeToken(s)]; ok {
		return v, nil
	}
	return "", &UnknownValueError{Enum: "risk status", Value: s}
}

// ParseSeverity parses a risk severity, ignoring case and separators.
func ParseSeverity(s string) (Severity, error) {
	if v, ok := severities[NormalizeToken(s)]; ok {
		return v, nil
	}
	return "", &UnknownValueError{Enum: "severity", Value: s}
}
