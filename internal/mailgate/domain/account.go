package domain

// EmailAccount describes the mail account an authorized request operates
// as. Most keys use the system default; a key with an encrypted override
// carries its own account and transport endpoints.
type EmailAccount struct {
	Address  string `json:"address"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	SMTPHost string `json:"smtp_host,omitempty"`
	SMTPPort int    `json:"smtp_port,omitempty"`
	IMAPHost string `json:"imap_host,omitempty"`
	IMAPPort int    `json:"imap_port,omitempty"`
}

// IsZero reports whether the account carries no usable address.
func (a EmailAccount) IsZero() bool { return a.Address == "" }
