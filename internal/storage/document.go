package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"haushalt/internal/core"
)

// DocumentVersion is the schema version written to every document.
const DocumentVersion = 1

// Document is the whole persisted state: every user and every line.
type Document struct {
	Version int         `json:"version"`
	Users   []core.User `json:"users"`
	Lines   []core.Line `json:"lines"`

	revision uint64
}

func newDocument() *Document {
	return &Document{
		Version: DocumentVersion,
		Users:   []core.User{},
		Lines:   []core.Line{},
	}
}

// Revision counts the exclusive transactions committed since the store was
// loaded. It is not persisted.
func (d *Document) Revision() uint64 {
	return d.revision
}

// Clone returns a deep copy that can be mutated without affecting d.
func (d *Document) Clone() *Document {
	out := &Document{
		Version:  d.Version,
		Users:    append(make([]core.User, 0, len(d.Users)), d.Users...),
		Lines:    make([]core.Line, len(d.Lines)),
		revision: d.revision,
	}
	for i, l := range d.Lines {
		out.Lines[i] = l.Clone()
	}
	return out
}

// UserIndex returns the position of the user with the given id, or -1.
func (d *Document) UserIndex(id string) int {
	for i, u := range d.Users {
		if u.ID == id {
			return i
		}
	}
	return -1
}

// UserByUsername returns the user with exactly that username.
func (d *Document) UserByUsername(username string) (core.User, bool) {
	for _, u := range d.Users {
		if u.Username == username {
			return u, true
		}
	}
	return core.User{}, false
}

// LineIndex returns the position of the line with lineID owned by userID, or
// -1. A line owned by someone else is reported as missing.
func (d *Document) LineIndex(userID, lineID string) int {
	for i, l := range d.Lines {
		if l.ID == lineID && l.UserID == userID {
			return i
		}
	}
	return -1
}

// LinesOf returns the lines owned by userID in creation order. The returned
// lines share subitem storage with the document.
func (d *Document) LinesOf(userID string) []core.Line {
	var out []core.Line
	for _, l := range d.Lines {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out
}

// storedLine accepts legacy documents: lines without ids, the old "amount"
// field and null subitem lists.
type storedLine struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	Label      string           `json:"label"`
	Type       core.LineType    `json:"type"`
	Category   string           `json:"category"`
	BaseAmount *decimal.Decimal `json:"base_amount"`
	Amount     *decimal.Decimal `json:"amount"`
	Subitems   []core.Subitem   `json:"subitems"`
	IsVariable *bool            `json:"is_variable"`
}

type storedDocument struct {
	Version int          `json:"version"`
	Users   []core.User  `json:"users"`
	Lines   []storedLine `json:"lines"`
}

// decodeDocument parses and migrates a persisted document. migrated reports
// whether the result differs from the input and must be written back.
func decodeDocument(data []byte) (doc *Document, migrated bool, err error) {
	if err := checkTopLevel(data); err != nil {
		return nil, false, err
	}
	var raw storedDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, err
	}

	doc = newDocument()
	if raw.Version != DocumentVersion {
		if raw.Version > DocumentVersion {
			return nil, false, fmt.Errorf("unsupported document version %d", raw.Version)
		}
		migrated = true
	}
	if raw.Users != nil {
		doc.Users = raw.Users
	}

	usernames := make(map[string]struct{}, len(doc.Users))
	userIDs := make(map[string]struct{}, len(doc.Users))
	for i, u := range doc.Users {
		if u.ID == "" {
			return nil, false, fmt.Errorf("user %d has no id", i)
		}
		if _, dup := userIDs[u.ID]; dup {
			return nil, false, fmt.Errorf("duplicate user id %s", u.ID)
		}
		if _, dup := usernames[u.Username]; dup {
			return nil, false, fmt.Errorf("duplicate username %q", u.Username)
		}
		userIDs[u.ID] = struct{}{}
		usernames[u.Username] = struct{}{}
	}

	lineIDs := make(map[string]struct{}, len(raw.Lines))
	subIDs := make(map[string]struct{})
	for i, rl := range raw.Lines {
		l := core.Line{
			ID:         rl.ID,
			UserID:     rl.UserID,
			Label:      rl.Label,
			Type:       rl.Type,
			Category:   rl.Category,
			Subitems:   rl.Subitems,
			IsVariable: rl.IsVariable,
		}
		switch {
		case rl.BaseAmount != nil:
			l.BaseAmount = *rl.BaseAmount
		case rl.Amount != nil:
			l.BaseAmount = *rl.Amount
			migrated = true
		}
		if rl.Amount != nil {
			migrated = true
		}
		if l.ID == "" {
			l.ID = uuid.NewString()
			migrated = true
		}
		if l.Subitems == nil {
			l.Subitems = []core.Subitem{}
			migrated = true
		}
		for j := range l.Subitems {
			if l.Subitems[j].ID == "" {
				l.Subitems[j].ID = uuid.NewString()
				migrated = true
			}
			if _, dup := subIDs[l.Subitems[j].ID]; dup {
				return nil, false, fmt.Errorf("duplicate subitem id %s", l.Subitems[j].ID)
			}
			subIDs[l.Subitems[j].ID] = struct{}{}
		}
		if l.UserID == "" && len(doc.Users) > 0 {
			// Lines written before accounts existed belong to the first user.
			l.UserID = doc.Users[0].ID
			migrated = true
		}

		if _, dup := lineIDs[l.ID]; dup {
			return nil, false, fmt.Errorf("duplicate line id %s", l.ID)
		}
		lineIDs[l.ID] = struct{}{}
		if _, ok := userIDs[l.UserID]; !ok {
			return nil, false, fmt.Errorf("line %d (%s) references unknown user %q", i, l.ID, l.UserID)
		}
		if !l.Type.Valid() {
			return nil, false, fmt.Errorf("line %s: %w", l.ID, core.ErrInvalidType)
		}
		if l.Category == "" {
			return nil, false, fmt.Errorf("line %s: %w", l.ID, core.ErrEmptyCategory)
		}
		if l.BaseAmount.IsNegative() {
			return nil, false, fmt.Errorf("line %s: %w", l.ID, core.ErrNegativeAmount)
		}
		doc.Lines = append(doc.Lines, l)
	}

	return doc, migrated, nil
}

// checkTopLevel rejects anything but a ledger object: null, non-objects,
// unknown keys, and objects holding neither users nor lines. Such input is
// never treated as an empty ledger.
func checkTopLevel(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return fmt.Errorf("document is not a JSON object: %w", err)
	}
	if top == nil {
		return errors.New("document is null")
	}
	for key := range top {
		switch key {
		case "version", "users", "lines":
		default:
			return fmt.Errorf("unknown top-level key %q", key)
		}
	}
	_, hasUsers := top["users"]
	_, hasLines := top["lines"]
	if !hasUsers && !hasLines {
		return errors.New("document has neither users nor lines")
	}
	return nil
}

func encodeDocument(doc *Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return append(data, '\n'), nil
}
