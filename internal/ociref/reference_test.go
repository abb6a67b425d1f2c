package ociref

import "testing"

func TestValidateRepository(t *testing.T) {
	valid := []string{"alpine", "library/ubuntu", "a/b/c", "foo-bar.baz_qux"}
	for _, name := range valid {
		if err := ValidateRepository(name); err != nil {
			t.Errorf("ValidateRepository(%q) = %v, want nil", name, err)
		}
	}
	invalid := []string{"", "Alpine", "/foo", "foo/", "foo//bar", "foo bar"}
	for _, name := range invalid {
		if err := ValidateRepository(name); err == nil {
			t.Errorf("ValidateRepository(%q) = nil, want error", name)
		}
	}
}

func TestValidateTag(t *testing.T) {
	valid := []string{"latest", "3.18", "v1.2.3-rc1", "_underscore"}
	for _, tag := range valid {
		if err := ValidateTag(tag); err != nil {
			t.Errorf("ValidateTag(%q) = %v, want nil", tag, err)
		}
	}
	invalid := []string{"", ".leadingdot", "-leadingdash"}
	for _, tag := range invalid {
		if err := ValidateTag(tag); err == nil {
			t.Errorf("ValidateTag(%q) = nil, want error", tag)
		}
	}
}

func TestValidateDigest(t *testing.T) {
	if err := ValidateDigest("sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b85"); err == nil {
		t.Errorf("expected error for wrong-length hex")
	}
	if err := ValidateDigest("sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"); err != nil {
		t.Errorf("ValidateDigest() = %v, want nil", err)
	}
	if err := ValidateDigest("not-a-digest"); err == nil {
		t.Errorf("expected error for malformed digest")
	}
}
