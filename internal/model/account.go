package model

// UserProfile is the subset of an IAM account the portal reads.
type UserProfile struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	Emails    []string `json:"emails"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Enabled   bool     `json:"enabled"`
}

// PrimaryEmail returns the first address on the profile, or "".
func (p *UserProfile) PrimaryEmail() string {
	if p == nil || len(p.Emails) == 0 {
		return ""
	}
	return p.Emails[0]
}
