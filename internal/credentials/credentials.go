// Package credentials rotates outgoing GitHub API requests across the
// configured access tokens.
package credentials

import (
	"errors"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/oauth2"
)

// SlotCount is the number of credential positions the service reads
// (GITHUB_TOKEN_1 through GITHUB_TOKEN_6).
const SlotCount = 6

// ErrNoCredentials is returned when no slot carries a usable token.
var ErrNoCredentials = errors.New("credentials: no GitHub token configured")

// Slot is one configured position. Present is false for unset positions.
type Slot struct {
	Value   string
	Present bool
}

// Set is the fixed array of credential positions.
type Set [SlotCount]Slot

// NewSet builds a Set from raw values. Blank values are absent slots.
func NewSet(values [SlotCount]string) Set {
	var s Set
	for i, v := range values {
		v = strings.TrimSpace(v)
		s[i] = Slot{Value: v, Present: v != ""}
	}
	return s
}

// FromEnv reads GITHUB_TOKEN_1..6 through getenv.
func FromEnv(getenv func(string) string) Set {
	var values [SlotCount]string
	for i := range values {
		values[i] = getenv("GITHUB_TOKEN_" + strconv.Itoa(i+1))
	}
	return NewSet(values)
}

// Usable returns the number of present slots.
func (s Set) Usable() int {
	n := 0
	for _, slot := range s {
		if slot.Present && slot.Value != "" {
			n++
		}
	}
	return n
}

// Selector hands out tokens round-robin. It is safe for concurrent use.
type Selector struct {
	usable  []string
	counter atomic.Uint64
}

// NewSelector keeps the usable slots of set in slot order.
func NewSelector(set Set) (*Selector, error) {
	usable := make([]string, 0, SlotCount)
	for _, slot := range set {
		if slot.Present && slot.Value != "" {
			usable = append(usable, slot.Value)
		}
	}
	if len(usable) == 0 {
		return nil, ErrNoCredentials
	}
	return &Selector{usable: usable}, nil
}

// Next advances the counter and returns the token it lands on. The counter
// is incremented before use, so with n usable tokens the first call returns
// usable[1 % n].
func (s *Selector) Next() string {
	c := s.counter.Add(1)
	return s.usable[c%uint64(len(s.usable))]
}

// Len returns the number of usable tokens.
func (s *Selector) Len() int {
	return len(s.usable)
}

// Token implements oauth2.TokenSource. Every call rotates, so wrap the
// selector in an oauth2.Transport directly rather than a reusing source.
func (s *Selector) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: s.Next(), TokenType: "Bearer"}, nil
}

var _ oauth2.TokenSource = (*Selector)(nil)
