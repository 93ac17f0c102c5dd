package validate

import (
	"strconv"
	"strings"
)

type ErrField struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

type Errs []ErrField

func (e Errs) Error() string { // error interface
	var b strings.Builder
	for i, ef := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ef.Field + ": " + ef.Msg)
	}
	return b.String()
}

// Helpers
func Required(field, value string) *ErrField {
	if strings.TrimSpace(value) == "" {
		return &ErrField{Field: field, Msg: "required"}
	}
	return nil
}

func MinInt(field string, v, min int64) *ErrField {
	if v < min {
		return &ErrField{Field: field, Msg: "must be >= " + strconv.FormatInt(min, 10)}
	}
	return nil
}

// MinorUnits checks a money amount expressed in minor units. The provider
// charges whole units only, so the amount must divide evenly by 100.
func MinorUnits(field string, v int64) *ErrField {
	if e := MinInt(field, v, 1); e != nil {
		return e
	}
	if v%100 != 0 {
		return &ErrField{Field: field, Msg: "must be a multiple of 100 minor units"}
	}
	return nil
}

// Phone checks the canonical MSISDN form the provider accepts: 2547XXXXXXXX
// or 2541XXXXXXXX, digits only.
func Phone(field, value string) *ErrField {
	if len(value) != 12 || !strings.HasPrefix(value, "254") {
		return &ErrField{Field: field, Msg: "must be 254XXXXXXXXX"}
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return &ErrField{Field: field, Msg: "must be digits only"}
		}
	}
	return nil
}
