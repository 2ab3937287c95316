package claims

const (
	PermClaimRead     = "claim:read"
	PermClaimWrite    = "claim:write"
	PermClaimOverride = "claim:override"
	PermVerifyRespond = "verify:respond"
	PermApprovalWrite = "approval:write"
	PermApprovalRead  = "approval:read"
	PermPoolDeposit   = "pool:deposit"
	PermPoolRead      = "pool:read"
)
