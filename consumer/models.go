package consumer

import (
	"strings"
	"time"
)

// Profile holds the consumer details rendered into dispute letters.
type Profile struct {
	ID          string     `yaml:"id" json:"id"`
	FullName    string     `yaml:"full_name" json:"full_name"`
	Address     string     `yaml:"address" json:"address"`
	City        string     `yaml:"city" json:"city"`
	State       string     `yaml:"state" json:"state"`
	PostalCode  string     `yaml:"postal_code" json:"postal_code"`
	SSN         string     `yaml:"ssn" json:"-"`
	DateOfBirth *time.Time `yaml:"date_of_birth" json:"date_of_birth,omitempty"`
	Email       string     `yaml:"email" json:"email"`
	CreatedAt   time.Time  `yaml:"-" json:"created_at"`
}

// MailingAddress joins the address lines in letter form.
func (p Profile) MailingAddress() string {
	cityLine := strings.TrimSpace(strings.Join(nonEmpty(p.City, strings.TrimSpace(p.State+" "+p.PostalCode)), ", "))
	return strings.Join(nonEmpty(p.Address, cityLine), "\n")
}

func nonEmpty(parts ...string) []string {
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
