package facts

import "testing"

func TestCollectIncludesHostnameAndPlatform(t *testing.T) {
	f, err := Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if _, ok := f["hostname"]; !ok {
		t.Error("expected hostname key")
	}
	if _, ok := f["platform"]; !ok {
		t.Error("expected platform key")
	}
}

func TestIsQEMUMatchesQemuAndKVMVendors(t *testing.T) {
	cases := map[string]bool{
		"QEMU":           true,
		"qemu":           true,
		"KVM":            true,
		"Dell Inc.":      false,
		"":                false,
	}
	for vendor, want := range cases {
		if got := isQEMU(vendor); got != want {
			t.Errorf("isQEMU(%q) = %v, want %v", vendor, got, want)
		}
	}
}
