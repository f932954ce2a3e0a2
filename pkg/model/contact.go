package model

type Contact struct {
	ID          int64
	TenantID    int64
	Phone       string
	Name        string
	CustomerRef string
	Segment     string
	Language    string
	OptedOut    bool
	Deleted     bool
}

// Field returns the contact attribute a template binding refers to.
func (c Contact) Field(name string) string {
	switch name {
	case "name":
		return c.Name
	case "phone":
		return c.Phone
	case "customer_ref", "customer_id":
		return c.CustomerRef
	case "segment":
		return c.Segment
	case "language":
		return c.Language
	}
	return ""
}
