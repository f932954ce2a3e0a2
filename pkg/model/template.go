package model

// VariableBinding maps one positional template variable ({{n}}) to a contact
// field. Fallback is used when the field is empty.
type VariableBinding struct {
	Field    string `json:"field"`
	Fallback string `json:"fallback,omitempty"`
}

const ApprovalApproved = "APPROVED"

type TemplateTranslation struct {
	TemplateID     int64
	Language       string
	GatewayName    string
	Bindings       []VariableBinding
	ApprovalStatus string
}
