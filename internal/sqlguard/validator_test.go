package sqlguard

import "testing"

func TestDefaultPolicyAllowsReadOnlyKinds(t *testing.T) {
	policy := DefaultPolicy()
	for _, kind := range []Kind{KindSelect, KindShow, KindDescribe, KindExplain, KindUse} {
		if !policy.Allowed(kind) {
			t.Errorf("expected %q to be allowed by default policy", kind)
		}
	}
}

func TestDefaultPolicyDeniesMutatingKinds(t *testing.T) {
	policy := DefaultPolicy()
	for _, kind := range []Kind{KindInsert, KindUpdate, KindDelete, KindDrop, KindTruncate, KindCommand} {
		if policy.Allowed(kind) {
			t.Errorf("expected %q to be denied by default policy", kind)
		}
	}
}

func TestValidateDeniedKindReturnsSafeAlternatives(t *testing.T) {
	err := Validate(KindTruncate, DefaultPolicy())
	if err == nil {
		t.Fatal("expected a denied error for TRUNCATE")
	}
	if err.Kind != "denied" {
		t.Errorf("expected kind=denied, got %q", err.Kind)
	}
	if len(err.SafeAlternatives) == 0 {
		t.Errorf("expected safe alternatives for a denied TRUNCATE")
	}
}

func TestValidateAllowedKindReturnsNil(t *testing.T) {
	if err := Validate(KindSelect, DefaultPolicy()); err != nil {
		t.Errorf("expected SELECT to validate cleanly, got %+v", err)
	}
}

func TestValidateUnknownKindFallsBackToGenericAlternative(t *testing.T) {
	err := Validate(Kind("something_unclassified"), DefaultPolicy())
	if err == nil {
		t.Fatal("expected an error for an unrecognized, unpolicied kind")
	}
	want := "use a read-only statement (SELECT/SHOW/DESCRIBE) instead"
	if len(err.SafeAlternatives) != 1 || err.SafeAlternatives[0] != want {
		t.Errorf("expected the generic alternative %q, got %v", want, err.SafeAlternatives)
	}
}
