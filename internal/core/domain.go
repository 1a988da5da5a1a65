package core

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const maxNameLength = 200

type keyKind uint8

const (
	keyDraft keyKind = iota
	keyPersisted
)

type (
	// Key identifies an entity as either a draft (never saved) or a
	// persisted row carrying its database id.
	Key struct {
		kind keyKind
		id   string
	}

	// Tx is a single financial event. Positive amounts are outflows,
	// negative amounts are inflows.
	Tx struct {
		Key          Key        `json:"id"`
		UserID       string     `json:"userId"`
		Amount       float64    `json:"amount"`
		Name         string     `json:"name"`
		AuthorizedAt time.Time  `json:"authorizedAt"`
		PostedAt     *time.Time `json:"postedAt,omitempty"`
		ExternalID   string     `json:"externalId,omitempty"`
		Recurring    bool       `json:"recurring"`
		Splits       []Split    `json:"splits"`
	}

	// Split is one participant's share of a transaction, broken down by category.
	Split struct {
		Key    Key    `json:"id"`
		UserID string `json:"userId"`
		Cats   []Cat  `json:"cats"`
	}

	// Cat is a labeled portion of a split's amount.
	Cat struct {
		Key      Key      `json:"id"`
		Name     string   `json:"name"`
		NamePath []string `json:"namePath"`
		Amount   float64  `json:"amount"`
	}
)

var (
	ErrEmptyUser      = errors.New("empty user id")
	ErrEmptyName      = errors.New("empty transaction name")
	ErrZeroTime       = errors.New("authorization time cannot be zero")
	ErrNameTooLong    = errors.New("name too long (max 200 characters)")
	ErrDuplicateSplit = errors.New("participant has more than one split")
	ErrEmptySplitUser = errors.New("split has no participant")
)

// DraftKey returns the key of an entity that has not been saved yet.
func DraftKey() Key {
	return Key{kind: keyDraft}
}

// PersistedKey returns the key of a saved entity. An empty id yields a draft key.
func PersistedKey(id string) Key {
	if id == "" {
		return DraftKey()
	}
	return Key{kind: keyPersisted, id: id}
}

// IsPersisted reports whether the key refers to a stored row.
func (k Key) IsPersisted() bool {
	return k.kind == keyPersisted
}

// ID returns the stored id and true, or "" and false for drafts.
func (k Key) ID() (string, bool) {
	if k.kind != keyPersisted {
		return "", false
	}
	return k.id, true
}

// String returns the id, or "draft".
func (k Key) String() string {
	if k.kind != keyPersisted {
		return "draft"
	}
	return k.id
}

func (k Key) MarshalJSON() ([]byte, error) {
	if k.kind != keyPersisted {
		return []byte("null"), nil
	}
	return json.Marshal(k.id)
}

func (k *Key) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*k = DraftKey()
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	*k = PersistedKey(id)
	return nil
}

// ID is shorthand for the transaction key's id.
func (t Tx) ID() string {
	id, _ := t.Key.ID()
	return id
}

func (t Tx) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return ErrEmptyUser
	}
	if strings.TrimSpace(t.Name) == "" {
		return ErrEmptyName
	}
	if utf8.RuneCountInString(t.Name) > maxNameLength {
		return ErrNameTooLong
	}
	if t.AuthorizedAt.IsZero() {
		return ErrZeroTime
	}
	seen := make(map[string]struct{}, len(t.Splits))
	for _, s := range t.Splits {
		if strings.TrimSpace(s.UserID) == "" {
			return ErrEmptySplitUser
		}
		if _, ok := seen[s.UserID]; ok {
			return ErrDuplicateSplit
		}
		seen[s.UserID] = struct{}{}
	}
	return nil
}

// SplitTotal sums every split's amount.
func (t Tx) SplitTotal() float64 {
	var cents int64
	for _, s := range t.Splits {
		cents += ToCents(SplitAmount(s))
	}
	return FromCents(cents)
}

// SplitMismatch returns split total minus transaction amount. Zero means the
// splits account for the whole transaction.
func (t Tx) SplitMismatch() float64 {
	return FromCents(ToCents(t.SplitTotal()) - ToCents(t.Amount))
}

// SplitFor returns the index of the participant's split, or -1.
func (t Tx) SplitFor(userID string) int {
	for i, s := range t.Splits {
		if s.UserID == userID {
			return i
		}
	}
	return -1
}

// Participants lists split owners in split order.
func (t Tx) Participants() []string {
	out := make([]string, 0, len(t.Splits))
	for _, s := range t.Splits {
		out = append(out, s.UserID)
	}
	return out
}

// Clone returns a deep copy so callers can edit splits without aliasing.
func (t Tx) Clone() Tx {
	out := t
	if t.PostedAt != nil {
		p := *t.PostedAt
		out.PostedAt = &p
	}
	out.Splits = cloneSplits(t.Splits)
	return out
}

func cloneSplits(in []Split) []Split {
	if in == nil {
		return nil
	}
	out := make([]Split, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

func (s Split) Clone() Split {
	out := s
	if s.Cats != nil {
		out.Cats = make([]Cat, len(s.Cats))
		for i, c := range s.Cats {
			out.Cats[i] = c.Clone()
		}
	}
	return out
}

func (c Cat) Clone() Cat {
	out := c
	if c.NamePath != nil {
		out.NamePath = append([]string(nil), c.NamePath...)
	}
	return out
}

// NewCat builds a draft category. The display name is the last path segment.
func NewCat(path []string, amount float64) Cat {
	clean := make([]string, 0, len(path))
	for _, p := range path {
		if p = strings.TrimSpace(p); p != "" {
			clean = append(clean, p)
		}
	}
	name := ""
	if len(clean) > 0 {
		name = clean[len(clean)-1]
	}
	return Cat{Key: DraftKey(), Name: name, NamePath: clean, Amount: Round2(amount)}
}

// NewSingleSplitTx builds a draft transaction owned by userID with one split
// and one category carrying the full amount.
func NewSingleSplitTx(userID, name string, amount float64, at time.Time, path []string) Tx {
	if len(path) == 0 {
		path = []string{UncategorizedName}
	}
	return Tx{
		Key:          DraftKey(),
		UserID:       userID,
		Amount:       Round2(amount),
		Name:         strings.TrimSpace(name),
		AuthorizedAt: at,
		Splits: []Split{{
			Key:    DraftKey(),
			UserID: userID,
			Cats:   []Cat{NewCat(path, amount)},
		}},
	}
}

// UncategorizedName labels amounts that have no category yet.
const UncategorizedName = "Uncategorized"
