package conductor

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserReport is a non-technical description of a module problem, suitable
// for surfacing to an end user. The wording never exposes internals such
// as stack traces or error chains.
type UserReport struct {
	ReportID          string        `json:"reportId"`
	ModuleID          string        `json:"moduleId"`
	ModuleName        string        `json:"moduleName"`
	Severity          Severity      `json:"severity"`
	Title             string        `json:"title"`
	AffectsFeatures   bool          `json:"affectsFeatures"`
	Description       string        `json:"description"`
	Suggestions       []string      `json:"suggestions"`
	EstimatedRecovery time.Duration `json:"estimatedRecovery"`
	GeneratedAt       time.Time     `json:"generatedAt"`
}

// GenerateUserReport builds a user-facing report for the module's current
// condition. The module name defaults to the ID when the caller has no
// registry at hand.
func (m *ErrorRecoveryManager) GenerateUserReport(moduleID, moduleName string, severity Severity) UserReport {
	if moduleName == "" {
		moduleName = moduleID
	}

	report := UserReport{
		ReportID:    generateReportID(),
		ModuleID:    moduleID,
		ModuleName:  moduleName,
		Severity:    severity,
		GeneratedAt: time.Now(),
	}

	report.AffectsFeatures = severity > SeverityLow

	switch severity {
	case SeverityLow:
		report.Title = fmt.Sprintf("%s reported a minor issue", moduleName)
		report.Description = fmt.Sprintf("%s hit a minor problem and recovered on its own. No action is needed.", moduleName)
		report.Suggestions = []string{"No action required."}
		report.EstimatedRecovery = 0
	case SeverityMedium:
		report.Title = fmt.Sprintf("%s is retrying an operation", moduleName)
		report.Description = fmt.Sprintf("%s ran into a problem and is automatically retrying. Functionality may be briefly delayed.", moduleName)
		report.Suggestions = []string{
			"Wait a few seconds for the retry to complete.",
			"If the problem persists, restart the affected feature.",
		}
		report.EstimatedRecovery = time.Duration(m.config.MaxRetryAttempts) * m.config.RetryBaseDelay
	case SeverityHigh:
		report.Title = fmt.Sprintf("%s is being restarted", moduleName)
		report.Description = fmt.Sprintf("%s encountered a serious problem and is being restarted. Related features are unavailable until it comes back.", moduleName)
		report.Suggestions = []string{
			"Wait for the restart to finish.",
			"Save your work in unaffected areas.",
		}
		report.EstimatedRecovery = 5 * time.Second
	default:
		report.Title = fmt.Sprintf("%s has stopped working", moduleName)
		report.Description = fmt.Sprintf("%s failed and could not be recovered automatically. Related features are disabled.", moduleName)
		report.Suggestions = []string{
			"Restart the application.",
			"If the problem persists after a restart, report the issue.",
		}
		report.EstimatedRecovery = 0
	}

	return report
}

// generateReportID returns a time-ordered unique report ID, falling back
// to a random UUID when v7 generation fails.
func generateReportID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
