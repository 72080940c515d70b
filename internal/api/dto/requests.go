package dto

// ResolveExceptionRequest is the body of POST /api/exceptions/resolve.
type ResolveExceptionRequest struct {
	LineID            string  `json:"line_id" validate:"required,max=128"`
	ResolutionAction  string  `json:"resolution_action" validate:"required,max=64"`
	ResolvedBankTxnID *string `json:"resolved_bank_txn_id" validate:"omitempty,max=128"`
	ResolutionNote    *string `json:"resolution_note" validate:"omitempty,max=2000"`
}

// UpsertPolicyRuleRequest is the body of POST /api/rules/policy.
type UpsertPolicyRuleRequest struct {
	SourcePolicyNumber string  `json:"source_policy_number" validate:"required,max=128"`
	TargetPolicyNumber string  `json:"target_policy_number" validate:"required,max=128"`
	Note               *string `json:"note" validate:"omitempty,max=2000"`
}
