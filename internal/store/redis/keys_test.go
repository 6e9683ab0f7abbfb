package redis

import "testing"

func TestRegistrationKeyRoundTrip(t *testing.T) {
	key := RegistrationKey("svc-a")
	if key != "namebroker:registration:svc-a" {
		t.Errorf("RegistrationKey() = %q", key)
	}

	name, err := ExtractName(key)
	if err != nil {
		t.Fatalf("ExtractName() error = %v", err)
	}
	if name != "svc-a" {
		t.Errorf("ExtractName() = %q, want svc-a", name)
	}
}

func TestExtractNameRejectsBareKeys(t *testing.T) {
	for _, key := range []string{"", "namebroker:registration:", "short"} {
		if _, err := ExtractName(key); err == nil {
			t.Errorf("ExtractName(%q) expected error", key)
		}
	}
}
