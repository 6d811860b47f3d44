package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"haushalt/internal/core"
)

const maxBodyBytes = 1 << 20

// Categories assigned when a create request names none.
const (
	DefaultExpenseCategory = "sonstige ausgaben"
	DefaultIncomeCategory  = "sonstige einnahmen"
)

var errBadRequest = errors.New("bad request")

// decodeJSON reads one JSON object from the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: malformed JSON body: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON body", errBadRequest)
	}
	return nil
}

// jsonAmount accepts an amount as a JSON number or string, with a dot or
// comma decimal separator. Parsing is deferred so errors can name the field.
type jsonAmount struct {
	raw string
	set bool
}

func (a *jsonAmount) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*a = jsonAmount{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = jsonAmount{raw: s, set: true}
		return nil
	}
	*a = jsonAmount{raw: string(b), set: true}
	return nil
}

// value parses the amount. Missing amounts are zero.
func (a jsonAmount) value(field string) (decimal.Decimal, error) {
	if !a.set {
		return decimal.Zero, nil
	}
	d, err := core.ParseSignedAmount(a.raw)
	if err != nil {
		return decimal.Zero, &core.ValidationError{Field: field, Err: err}
	}
	return d, nil
}

// optionalBool tells an absent field from an explicit null.
type optionalBool struct {
	set   bool
	null  bool
	value bool
}

func (o *optionalBool) UnmarshalJSON(b []byte) error {
	o.set = true
	if bytes.Equal(b, []byte("null")) {
		o.null = true
		return nil
	}
	return json.Unmarshal(b, &o.value)
}

func (o optionalBool) ptr() *bool {
	if !o.set || o.null {
		return nil
	}
	v := o.value
	return &v
}

type subitemRequest struct {
	Label  string     `json:"label"`
	Amount jsonAmount `json:"amount"`
}

type createLineRequest struct {
	Label      string           `json:"label"`
	Type       string           `json:"type"`
	Category   *string          `json:"category"`
	BaseAmount jsonAmount       `json:"base_amount"`
	IsVariable optionalBool     `json:"is_variable"`
	Subitems   []subitemRequest `json:"subitems"`
}

type updateLineRequest struct {
	Label      *string           `json:"label"`
	Type       *string           `json:"type"`
	Category   *string           `json:"category"`
	BaseAmount jsonAmount        `json:"base_amount"`
	IsVariable optionalBool      `json:"is_variable"`
	Subitems   *[]subitemRequest `json:"subitems"`
}

type renameCategoryRequest struct {
	Old string `json:"old"`
	New string `json:"new"`
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (req createLineRequest) input() (core.LineInput, error) {
	in := core.LineInput{
		Label:      sanitizeInput(req.Label),
		Type:       core.LineType(strings.TrimSpace(req.Type)),
		IsVariable: req.IsVariable.ptr(),
	}

	switch {
	case req.Category != nil:
		in.Category = sanitizeInput(*req.Category)
	case in.Type == core.Income:
		in.Category = DefaultIncomeCategory
	case in.Type == core.Expense:
		in.Category = DefaultExpenseCategory
	}

	base, err := req.BaseAmount.value("base_amount")
	if err != nil {
		return core.LineInput{}, err
	}
	in.BaseAmount = base

	if in.Subitems, err = subitemInputs(req.Subitems); err != nil {
		return core.LineInput{}, err
	}
	return in, nil
}

func (req updateLineRequest) patch() (core.LinePatch, error) {
	var p core.LinePatch
	if req.Label != nil {
		label := sanitizeInput(*req.Label)
		p.Label = &label
	}
	if req.Type != nil {
		t := core.LineType(strings.TrimSpace(*req.Type))
		p.Type = &t
	}
	if req.Category != nil {
		c := sanitizeInput(*req.Category)
		p.Category = &c
	}
	if req.BaseAmount.set {
		base, err := req.BaseAmount.value("base_amount")
		if err != nil {
			return core.LinePatch{}, err
		}
		p.BaseAmount = &base
	}
	if req.IsVariable.set {
		p.ClearIsVariable = req.IsVariable.null
		p.IsVariable = req.IsVariable.ptr()
	}
	if req.Subitems != nil {
		subs, err := subitemInputs(*req.Subitems)
		if err != nil {
			return core.LinePatch{}, err
		}
		p.Subitems = &subs
	}
	return p, nil
}

func subitemInputs(reqs []subitemRequest) ([]core.SubitemInput, error) {
	out := make([]core.SubitemInput, 0, len(reqs))
	for i, s := range reqs {
		amount, err := s.Amount.value(fmt.Sprintf("subitems[%d].amount", i))
		if err != nil {
			return nil, err
		}
		out = append(out, core.SubitemInput{Label: sanitizeInput(s.Label), Amount: amount})
	}
	return out, nil
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
