package errors

var (
	// Trust engine
	ErrProfileNotFound = NotFound("trust profile not found")

	// Invite ledger
	ErrInviteInvalid       = Invalid("invalid invite code")
	ErrInviteRevoked       = Revoked("invite code has been revoked")
	ErrInviteExpired       = Expired("invite code has expired")
	ErrInviteExhausted     = Exhausted("invite code has been fully used")
	ErrInviteQuotaExceeded = QuotaExceeded("maximum invite limit reached for your trust level")
	ErrCodeGeneration      = Internal("failed to generate unique invite code")

	// Device risk
	ErrDeviceNotFound = NotFound("device fingerprint not found")
	ErrDeviceBlocked  = Invalid("device is blocked")
)
