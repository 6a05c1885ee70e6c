package webinar

import (
	"net/mail"
	"strings"
)

// Contact is a resolved invitee identity.
type Contact struct {
	Email string
	Name  string
}

// Nickname maps a short sheet-friendly key to a full identity.
type Nickname struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// ParseContacts turns a comma-separated list of "Name <email>" entries into
// Contacts. Entries without an email address are looked up in the nickname
// table; unknown nicknames are dropped. Bare addresses get the display name
// "Panelist". Later entries win when an address repeats.
func ParseContacts(raw string, nicknames map[string]Nickname) []Contact {
	var out []Contact
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var c Contact
		if addr, err := mail.ParseAddress(part); err == nil && strings.Contains(addr.Address, "@") {
			c = Contact{
				Email: strings.ToLower(strings.TrimSpace(addr.Address)),
				Name:  strings.TrimSpace(addr.Name),
			}
			if c.Name == "" {
				c.Name = "Panelist"
			}
		} else {
			nick, ok := nicknames[strings.ToLower(part)]
			if !ok {
				continue
			}
			c = Contact{Email: strings.ToLower(nick.Email), Name: nick.Name}
		}
		out = mergeContact(out, c)
	}
	return out
}

// MergeContacts appends extras onto base, keeping order and letting the
// extras overwrite display names for addresses already present.
func MergeContacts(base []Contact, extras ...Contact) []Contact {
	out := make([]Contact, len(base))
	copy(out, base)
	for _, c := range extras {
		out = mergeContact(out, c)
	}
	return out
}

func mergeContact(list []Contact, c Contact) []Contact {
	if c.Email == "" {
		return list
	}
	for i := range list {
		if list[i].Email == c.Email {
			list[i].Name = c.Name
			return list
		}
	}
	return append(list, c)
}

func containsEmail(list []Contact, email string) bool {
	for _, c := range list {
		if c.Email == email {
			return true
		}
	}
	return false
}
