package analysis

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseIdentity(t *testing.T) {
	cases := []struct {
		in      string
		want    Identity
		wantErr bool
	}{
		{in: "leftpad-like@1.0.0", want: Identity{Name: "leftpad-like", Version: "1.0.0"}},
		{in: "@scope/pkg@2.1.0", want: Identity{Name: "@scope/pkg", Version: "2.1.0"}},
		{in: "Widget@1.0.0", want: Identity{Name: "widget", Version: "1.0.0"}},
		{in: "noversion", wantErr: true},
		{in: "@scope/pkg", wantErr: true},
		{in: "trailing@", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := ParseIdentity(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseIdentity(%q) should fail", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseIdentity(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseIdentity(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestIdentityKey(t *testing.T) {
	id := Identity{Name: "@scope/pkg", Version: "1.0.0"}
	if id.Key() != "@scope/pkg@1.0.0" {
		t.Errorf("Key() = %q", id.Key())
	}
}

func TestResultRecord(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	res := &Result{
		Insecure:         true,
		InsecurePackages: []string{"sharp"},
		AnalyzedAt:       at,
	}

	rec := res.Record()
	if !rec.Analyzed {
		t.Error("Analyzed = false, want true")
	}
	if rec.HasError {
		t.Error("HasError = true, want false")
	}
	if rec.AnalyzedAt == nil || *rec.AnalyzedAt != "2026-03-14T09:26:53Z" {
		t.Errorf("AnalyzedAt = %v, want ISO-8601 string", rec.AnalyzedAt)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"analyzed":true,"analyzedAt":"2026-03-14T09:26:53Z","insecurePackages":["sharp"],"hasError":false}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}
}

func TestResultRecordNeverNullArray(t *testing.T) {
	res := &Result{Err: "install failed: exit 1", AnalyzedAt: time.Now()}
	rec := res.Record()
	if !rec.HasError {
		t.Error("HasError = false, want true")
	}
	data, _ := json.Marshal(rec)
	if string(data) == "" || rec.InsecurePackages == nil {
		t.Error("InsecurePackages must marshal as [], not null")
	}
}
