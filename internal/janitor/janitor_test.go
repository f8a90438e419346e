package janitor

import "testing"

func TestValidateSchedule(t *testing.T) {
	valid := []string{"* * * * *", "*/5 * * * *", "0 3 * * 1"}
	for _, expr := range valid {
		if err := ValidateSchedule(expr); err != nil {
			t.Errorf("%q must be valid: %v", expr, err)
		}
	}

	invalid := []string{"", "often", "* * * *", "61 * * * *"}
	for _, expr := range invalid {
		if err := ValidateSchedule(expr); err == nil {
			t.Errorf("%q must be rejected", expr)
		}
	}
}
