package stripe

import "testing"

func TestSearchQuery(t *testing.T) {
	cases := map[string]string{
		"abc123":     `metadata['userId']:'abc123'`,
		"o'brien":    `metadata['userId']:'o\'brien'`,
		`back\slash`: `metadata['userId']:'back\\slash'`,
	}
	for subject, want := range cases {
		if got := searchQuery(subject); got != want {
			t.Errorf("searchQuery(%q) = %q, want %q", subject, got, want)
		}
	}
}

func TestCreateCheckoutSessionRequiresPrice(t *testing.T) {
	c := NewClient(Config{SecretKey: "sk_test_x"})
	if _, err := c.CreateCheckoutSession(t.Context(), "cus_1", "U1"); err == nil {
		t.Fatal("expected error without a price id")
	}
}
