package incident

import "testing"

func baseIncident() Incident {
	return Incident{
		Source:       SourceCaddo,
		Agency:       "CFD",
		ReportedTime: "1432",
		Description:  "Structure fire",
		Street:       "100 MAIN ST",
		CrossStreets: "BAIRD RD & SUSAN DR",
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint(baseIncident())
	b := Fingerprint(baseIncident())
	if a != b {
		t.Errorf("same incident produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestFingerprintIgnoresFormattingNoise(t *testing.T) {
	noisy := baseIncident()
	noisy.Description = "  structure   FIRE "
	noisy.Street = "100  main st"

	if Fingerprint(noisy) != Fingerprint(baseIncident()) {
		t.Error("whitespace and case changes should not change the fingerprint")
	}
}

func TestFingerprintChangesPerField(t *testing.T) {
	base := Fingerprint(baseIncident())

	mutations := map[string]func(*Incident){
		"agency":        func(i *Incident) { i.Agency = "SFD" },
		"time":          func(i *Incident) { i.ReportedTime = "1433" },
		"description":   func(i *Incident) { i.Description = "Vehicle fire" },
		"street":        func(i *Incident) { i.Street = "200 MAIN ST" },
		"cross streets": func(i *Incident) { i.CrossStreets = "OAK ST" },
	}
	for name, mutate := range mutations {
		inc := baseIncident()
		mutate(&inc)
		if Fingerprint(inc) == base {
			t.Errorf("changing %s should produce a new fingerprint", name)
		}
	}
}

func TestFingerprintEmbedsSource(t *testing.T) {
	other := baseIncident()
	other.Source = SourceBatonRouge
	if Fingerprint(other) == Fingerprint(baseIncident()) {
		t.Error("identical fields from different sources must not collide")
	}
}

func TestFingerprintIgnoresVolatileFields(t *testing.T) {
	withUnits := baseIncident()
	withUnits.Units = 7
	withUnits.Municipality = "Shreveport"
	if Fingerprint(withUnits) != Fingerprint(baseIncident()) {
		t.Error("unit count and municipality are not part of the identity")
	}
}

func TestQualityRankOrdering(t *testing.T) {
	ordered := []Quality{
		QualityFallback,
		QualityCityOnly,
		QualityStreetOnly,
		QualityStreetCross,
		QualityIntersection,
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Errorf("%s should rank above %s", ordered[i], ordered[i-1])
		}
	}
	if QualityStreetOnly.Rank() != QualityCrossOnly.Rank() {
		t.Error("street-only and cross-only should rank equally")
	}
}

func TestParseSource(t *testing.T) {
	for _, valid := range []string{"caddo", "batonrouge", "lafayette"} {
		if _, err := ParseSource(valid); err != nil {
			t.Errorf("ParseSource(%q) returned error: %v", valid, err)
		}
	}
	if _, err := ParseSource("orleans"); err == nil {
		t.Error("expected error for unknown source")
	}
}
