package verification

// ClaimType classifies an extracted statement.
type ClaimType string

const (
	ClaimFactual     ClaimType = "factual"
	ClaimNumerical   ClaimType = "numerical"
	ClaimAnalytical  ClaimType = "analytical"
	ClaimSpeculative ClaimType = "speculative"
)

// AtomicClaim is one checkable statement extracted during decomposition.
// SourceIDs is a structured field produced by the decomposition step;
// citation-marker text parsing is only a fallback when it is empty.
type AtomicClaim struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Type      ClaimType `json:"type"`
	Value     string    `json:"value,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	SourceIDs []int     `json:"source_ids"`
}

// ResultStatus is the fact-check verdict for one claim.
type ResultStatus string

const (
	StatusVerified         ResultStatus = "verified"
	StatusPartiallyCorrect ResultStatus = "partially_correct"
	StatusIncorrect        ResultStatus = "incorrect"
	StatusUnverifiable     ResultStatus = "unverifiable"
)

// Result is the outcome of verifying one claim.
type Result struct {
	ClaimID    string       `json:"claim_id"`
	Status     ResultStatus `json:"status"`
	Confidence float64      `json:"confidence"`
	Correction string       `json:"correction,omitempty"`
}

// unavailableConfidenceCap bounds the confidence of a claim whose every
// referenced source failed validation. Availability degrades confidence; it
// does not constitute falsity.
const unavailableConfidenceCap = 0.4
