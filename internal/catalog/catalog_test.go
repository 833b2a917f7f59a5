package catalog

import (
	"errors"
	"testing"
)

func TestGetPackageByID(t *testing.T) {
	pkg, err := GetPackageByID("sunbed-10")
	if err != nil {
		t.Fatalf("GetPackageByID returned error: %v", err)
	}
	if pkg.Sessions != 10 || pkg.Price != 29900 || pkg.Type != TypeSunBeds {
		t.Fatalf("unexpected package: %+v", pkg)
	}

	if _, err := GetPackageByID("no-such-package"); !errors.Is(err, ErrPackageNotFound) {
		t.Fatalf("expected ErrPackageNotFound, got %v", err)
	}
}

func TestGetPackagesByType(t *testing.T) {
	spray := GetPackagesByType(TypeSprayTan)
	if len(spray) != 2 {
		t.Fatalf("expected 2 spray tan packages, got %d", len(spray))
	}
	for _, p := range spray {
		if p.Type != TypeSprayTan {
			t.Fatalf("expected type %q, got %q", TypeSprayTan, p.Type)
		}
	}

	if got := GetPackagesByType("no-such-type"); len(got) != 0 {
		t.Fatalf("expected empty result for unknown type, got %d entries", len(got))
	}
}

func TestAllPackagesReturnsACopy(t *testing.T) {
	first := AllPackages()
	first[0].Price = 1
	second := AllPackages()
	if second[0].Price == 1 {
		t.Fatal("expected AllPackages to return a copy of the catalog")
	}
}

func TestCustomSessionPackage(t *testing.T) {
	tests := []struct {
		name      string
		sessions  int
		wantErr   bool
		wantPrice int64
	}{
		{name: "minimum allowed", sessions: 4, wantPrice: 18000},
		{name: "mid range", sessions: 10, wantPrice: 45000},
		{name: "maximum allowed", sessions: 20, wantPrice: 90000},
		{name: "below minimum", sessions: 3, wantErr: true},
		{name: "above maximum", sessions: 21, wantErr: true},
		{name: "zero", sessions: 0, wantErr: true},
		{name: "negative", sessions: -5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg, err := CustomSessionPackage(tt.sessions)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSessionCount) {
					t.Fatalf("expected ErrInvalidSessionCount, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CustomSessionPackage returned error: %v", err)
			}
			if pkg.Price != tt.wantPrice {
				t.Fatalf("expected price %d, got %d", tt.wantPrice, pkg.Price)
			}
			if pkg.ID != CustomTanID || pkg.Type != TypeSunBeds {
				t.Fatalf("unexpected synthesized package: %+v", pkg)
			}
		})
	}
}
