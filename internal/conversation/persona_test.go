package conversation

import "testing"

func TestParsePersona(t *testing.T) {
	cases := []struct {
		in     string
		want   Persona
		wantOK bool
	}{
		{"", PersonaCustomerSupport, true},
		{"customer_support", PersonaCustomerSupport, true},
		{" Customer_Support_EN ", PersonaCustomerSupportEN, true},
		{"pirate", DefaultPersona, false},
	}
	for _, tc := range cases {
		got, ok := ParsePersona(tc.in)
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("ParsePersona(%q) = (%v, %v), want (%v, %v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestPersonaProfiles(t *testing.T) {
	if got := PersonaCustomerSupport.Greeting(); got != "안녕하세요! 무엇을 도와드릴까요?" {
		t.Fatalf("Greeting() = %q", got)
	}
	if got := PersonaCustomerSupport.Language(); got != "ko" {
		t.Fatalf("Language() = %q, want ko", got)
	}
	if PersonaCustomerSupportEN.String() != "customer_support_en" {
		t.Fatalf("String() = %q", PersonaCustomerSupportEN.String())
	}
	if Persona(42).Fallback() != PersonaCustomerSupport.Fallback() {
		t.Fatalf("unknown persona does not fall back to the default profile")
	}
}
