package model

import (
	"fmt"
	"net/url"
)

// URL is a url.URL which can be used in YAML/JSON configuration.
type URL struct {
	*url.URL
}

func (u *URL) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		u.URL = nil
		return nil
	}
	parsed, err := url.Parse(string(text))
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	u.URL = parsed
	return nil
}

func (u URL) MarshalText() ([]byte, error) {
	if u.URL == nil {
		return []byte{}, nil
	}
	return []byte(u.URL.String()), nil
}

func (u URL) String() string {
	if u.URL == nil {
		return ""
	}
	return u.URL.String()
}

func (u URL) IsZero() bool {
	return u.URL == nil || *u.URL == (url.URL{})
}

// Clone returns a deep copy, so the result can be modified freely.
func (u URL) Clone() URL {
	if u.URL == nil {
		return URL{}
	}
	c := *u.URL
	if u.User != nil {
		if pw, ok := u.User.Password(); ok {
			c.User = url.UserPassword(u.User.Username(), pw)
		} else {
			c.User = url.User(u.User.Username())
		}
	}
	return URL{URL: &c}
}

// AsURL returns the underlying *url.URL, never nil.
func (u URL) AsURL() *url.URL {
	if u.URL == nil {
		return &url.URL{}
	}
	return u.URL
}
