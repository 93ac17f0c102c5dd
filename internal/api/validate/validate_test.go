package validate

import "testing"

func TestMinorUnits(t *testing.T) {
	cases := []struct {
		in int64
		ok bool
	}{
		{100, true},
		{5000, true},
		{0, false},
		{-100, false},
		{50, false},
		{150, false},
		{199, false},
	}
	for _, c := range cases {
		got := MinorUnits("amount", c.in)
		if c.ok && got != nil {
			t.Errorf("%d: unexpected error %v", c.in, got.Msg)
		}
		if !c.ok && got == nil {
			t.Errorf("%d: expected rejection", c.in)
		}
	}
}

func TestPhone(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"254712345678", true},
		{"254110345678", true},
		{"0712345678", false},
		{"+254712345678", false},
		{"25471234567", false},
		{"2547123456789", false},
		{"25471234567a", false},
		{"", false},
	}
	for _, c := range cases {
		got := Phone("phone", c.in)
		if c.ok && got != nil {
			t.Errorf("%q: unexpected error %v", c.in, got.Msg)
		}
		if !c.ok && got == nil {
			t.Errorf("%q: expected rejection", c.in)
		}
	}
}
