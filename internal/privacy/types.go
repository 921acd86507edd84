package privacy

// Detector categories. The set is fixed and jurisdiction-independent.
const (
	CategoryEmail         = "EMAIL"
	CategoryNationalID    = "NATIONAL_ID"
	CategoryPhone         = "PHONE"
	CategoryPaymentCard   = "PAYMENT_CARD"
	CategoryMedicalRecord = "MEDICAL_RECORD"
	CategoryPatientID     = "PATIENT_ID"
)

// SensitiveMatch is one firing of a built-in detector. Offset refers to the
// original text, not the masked copy.
type SensitiveMatch struct {
	Category    string `json:"category"`
	MatchedText string `json:"matched_text"`
	Offset      int    `json:"offset"`
}

// ScanResult holds the findings and the masked copy of the input. The
// original text is kept for in-process use but never serialized.
type ScanResult struct {
	Matches    []SensitiveMatch `json:"matches"`
	MaskedText string           `json:"masked_text"`
	Original   string           `json:"-"`
}
