package validate

import "time"

// VerificationResult is the persisted verdict of a VerificationArtifact.
type VerificationResult string

const (
	ResultPass    VerificationResult = "pass"
	ResultFail    VerificationResult = "fail"
	ResultWarning VerificationResult = "warning"
	ResultPending VerificationResult = "pending"
)

// ArtifactRecord is the immutable VerificationArtifact row persisted for
// one validator outcome.
type ArtifactRecord struct {
	ArtifactID         string             `json:"artifactId"`
	RunID              string             `json:"runId"`
	VerificationType   VerificationType   `json:"verificationType"`
	ArtifactType       string             `json:"artifactType"`
	ArtifactContent    string             `json:"artifactContent,omitempty"`
	VerificationResult VerificationResult `json:"verificationResult"`
	Checks             []Check            `json:"checks"`
	VerifiedAt         time.Time          `json:"verifiedAt"`
}

// Artifact projects the outcome into its persisted VerificationArtifact
// form. Severity maps onto the verdict: error→fail, warn→warning,
// info→pass.
func (o Outcome) Artifact(artifactID, runID, artifactType, content string, verifiedAt time.Time) ArtifactRecord {
	result := ResultPass
	switch o.Severity {
	case SeverityError:
		result = ResultFail
	case SeverityWarn:
		result = ResultWarning
	}
	return ArtifactRecord{
		ArtifactID:         artifactID,
		RunID:              runID,
		VerificationType:   o.VerificationType,
		ArtifactType:       artifactType,
		ArtifactContent:    content,
		VerificationResult: result,
		Checks:             o.Checks,
		VerifiedAt:         verifiedAt,
	}
}
