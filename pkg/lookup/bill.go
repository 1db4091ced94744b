package lookup

import "context"

// BillLineItem is one charge extracted from a scanned bill
type BillLineItem struct {
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
}

// BillExtract is what the OCR/vision collaborator returns for an uploaded
// bill image. Either LineItems or Summary is populated.
type BillExtract struct {
	LineItems []BillLineItem `json:"line_items,omitempty"`
	Summary   string         `json:"summary,omitempty"`
}

// BillReader extracts structured data from uploaded bill media. The
// implementation lives with the upload pipeline; the agent core only
// consumes its output as extra context on a user turn.
type BillReader interface {
	Read(ctx context.Context, data []byte, mime string) (BillExtract, error)
}
