package semantic

import "testing"

func TestCollectionName(t *testing.T) {
	tests := []struct {
		filename string
		policy   NamingPolicy
		want     string
	}{
		{"notes.txt", NamingStripExtension, "notes"},
		{"report.v2.pdf", NamingStripExtension, "report.v2"},
		{"report.v2.pdf", NamingFirstPeriod, "report"},
		{"README", NamingStripExtension, "README"},
		{"README", NamingFirstPeriod, "README"},
		{"/tmp/uploads/data.csv", NamingStripExtension, "data"},
		{`C:\Users\me\budget.xlsx`, NamingStripExtension, "budget"},
		{".env", NamingStripExtension, "env"},
		{".env", NamingFirstPeriod, "env"},
		{"...", NamingStripExtension, "document"},
		{"..txt", NamingStripExtension, "txt"},
		{"...txt", NamingStripExtension, "txt"},
		{"...txt", NamingFirstPeriod, "txt"},
		{". .md", NamingStripExtension, "md"},
		{". . .", NamingFirstPeriod, "document"},
		{"", NamingStripExtension, "document"},
		{"dir/", NamingFirstPeriod, "dir"},
		{"notes.txt", "", "notes"},
	}
	for _, tt := range tests {
		if got := CollectionName(tt.filename, tt.policy); got != tt.want {
			t.Errorf("CollectionName(%q, %q) = %q, want %q", tt.filename, tt.policy, got, tt.want)
		}
	}
}

func TestParseNamingPolicy(t *testing.T) {
	for in, want := range map[string]NamingPolicy{
		"":                NamingStripExtension,
		"strip-extension": NamingStripExtension,
		" First-Period ":  NamingFirstPeriod,
	} {
		got, err := ParseNamingPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseNamingPolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseNamingPolicy("prefix"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
