package model

// EmailVerification tracks whether the holder of a verification link proved
// control of the address given at registration. Verified only moves from false
// to true; the IAM service keeps its own "enabled" flag for the account.
type EmailVerification struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	VerificationCode string `json:"verification_code"`
	Verified         bool   `json:"verified"`
	Ctime            int64  `json:"ctime"`
	Mtime            int64  `json:"mtime"`
}
