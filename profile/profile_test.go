package profile_test

import (
	"errors"
	"testing"

	"github.com/projg2/gemato-go/manifest"
	"github.com/projg2/gemato-go/profile"
)

func TestLookupKnownProfiles(t *testing.T) {
	for _, name := range profile.Names() {
		p, err := profile.Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if len(p.HashSet) == 0 {
			t.Fatalf("profile %q has no hash set", name)
		}
		if p.Classify == nil || p.ShouldSplit == nil {
			t.Fatalf("profile %q missing policy functions", name)
		}
	}
}

func TestLookupUnknownProfile(t *testing.T) {
	_, err := profile.Lookup("does-not-exist")
	if !errors.Is(err, profile.ErrUnknownProfile) {
		t.Fatalf("expected ErrUnknownProfile, got %v", err)
	}
}

func TestEbuildProfileClassification(t *testing.T) {
	p, err := profile.Lookup(profile.Ebuild)
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]manifest.Tag{
		"foo-1.0.ebuild":  manifest.Ebuild,
		"files/patch.diff": manifest.Aux,
		"metadata.xml":    manifest.Data,
	}
	for path, want := range cases {
		if got := p.Classify(path); got != want {
			t.Errorf("Classify(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestWithHashSetOverride(t *testing.T) {
	p, err := profile.Lookup(profile.Default)
	if err != nil {
		t.Fatal(err)
	}
	overridden := p.WithHashSet(nil)
	if len(overridden.HashSet) != 0 {
		t.Fatal("expected overridden hash set to be empty")
	}
	if len(p.HashSet) == 0 {
		t.Fatal("expected original profile to be unaffected by WithHashSet")
	}
}
