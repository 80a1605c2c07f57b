package types

// UploadOutcomeKind classifies the result of uploading one artifact.
type UploadOutcomeKind string

const (
	// OutcomeUploaded means the service acknowledged the upload with a transaction id.
	OutcomeUploaded UploadOutcomeKind = "uploaded"
	// OutcomeUploadedNoID means the service accepted the upload without returning an id.
	OutcomeUploadedNoID UploadOutcomeKind = "uploaded_no_id"
	// OutcomeFailed means the upload (or the download preceding it) failed.
	OutcomeFailed UploadOutcomeKind = "failed"
)

// UploadOutcome is the per-artifact result of an upload attempt.
type UploadOutcome struct {
	// Path is the artifact path relative to its root.
	Path string `json:"path"`
	// Kind is the outcome classification.
	Kind UploadOutcomeKind `json:"kind"`
	// TransactionID is set only for OutcomeUploaded.
	TransactionID string `json:"transaction_id,omitempty"`
	// Reason explains a failure.
	Reason string `json:"reason,omitempty"`
}

// Eligible reports whether the artifact may be purged from its origin.
func (o UploadOutcome) Eligible() bool {
	return o.Kind == OutcomeUploaded || o.Kind == OutcomeUploadedNoID
}

// Uploaded builds a successful outcome. An empty id yields OutcomeUploadedNoID.
func Uploaded(path, transactionID string) UploadOutcome {
	if transactionID == "" {
		return UploadOutcome{Path: path, Kind: OutcomeUploadedNoID}
	}
	return UploadOutcome{Path: path, Kind: OutcomeUploaded, TransactionID: transactionID}
}

// Failed builds a failed outcome.
func Failed(path, reason string) UploadOutcome {
	return UploadOutcome{Path: path, Kind: OutcomeFailed, Reason: reason}
}
