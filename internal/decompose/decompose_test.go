package decompose

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/TobiSchelling/researchledger/internal/model"
)

func TestDecomposeComparison(t *testing.T) {
	sq := model.SubQuestion{ID: "Q1", Question: "Which platforms (Indeed, Upwork, Fiverr) lead the market and how did their share change?"}
	got := Decompose(sq, "Gig platform market 2022-2025")
	want := []string{
		"Indeed market share",
		"Upwork market share",
		"Fiverr market share",
		"Gig platform market share 2025",
		"Gig platform ranking 2025",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
}

func TestDecomposeKorean(t *testing.T) {
	sq := model.SubQuestion{ID: "Q1", Question: "알바 플랫폼(알바몬, 알바천국, 당근알바)의 시장 점유율 변화는?"}
	got := Decompose(sq, "2022-2025년 알바 플랫폼 시장 분석")
	want := []string{
		"알바몬 시장점유율",
		"알바천국 시장점유율",
		"당근알바 시장점유율",
		"알바 플랫폼 시장점유율 2025",
		"알바 플랫폼 순위 2025",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
}

func TestDecomposeTrendPadsToMinimum(t *testing.T) {
	sq := model.SubQuestion{ID: "Q2", Question: "How are younger workers' usage habits changing?"}
	got := Decompose(sq, "Gig work trends 2024")
	want := []string{
		"Gig work usage statistics 2024",
		"Gig work user trends 2024",
		"Gig work statistics 2024",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
}

func TestDecomposeFallback(t *testing.T) {
	sq := model.SubQuestion{ID: "Q3", Question: "Why does it matter?"}
	got := Decompose(sq, "Something")
	want := []string{"Why does it matter?", "Something statistics"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
}

func TestDecomposeBounds(t *testing.T) {
	sq := model.SubQuestion{ID: "Q1", Question: "Compare market share of Alpha, Beta, Gamma, Delta, Epsilon and Zeta (Eta, Theta)"}
	got := Decompose(sq, "Widget market 2023")
	if len(got) < MinQueries || len(got) > MaxQueries {
		t.Errorf("expected %d-%d queries, got %d: %v", MinQueries, MaxQueries, len(got), got)
	}
	seen := map[string]bool{}
	for _, q := range got {
		if seen[q] {
			t.Errorf("duplicate query %q", q)
		}
		seen[q] = true
	}
}

func TestDecomposeIsDeterministic(t *testing.T) {
	sq := model.SubQuestion{ID: "Q1", Question: `What drives "quiet quitting" among employees?`}
	a := Decompose(sq, "Workplace engagement")
	b := Decompose(sq, "Workplace engagement")
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("non-deterministic output:\n%s", diff)
	}
	want := []string{"quiet quitting Workplace engagement", "Workplace engagement", "Workplace engagement statistics"}
	if diff := cmp.Diff(want, a); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractEntities(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"How do platforms such as TaskRabbit and Handy compare?", []string{"TaskRabbit", "Handy"}},
		{"Share of delivery apps (Uber Eats / DoorDash; Grubhub)", []string{"Uber Eats", "DoorDash", "Grubhub"}},
		{`Is "gig economy" growing in the US?`, []string{"gig economy", "US"}},
		{"what changed between 2022 and 2025 (2022-2025)?", nil},
	}
	for _, tc := range cases {
		if diff := cmp.Diff(tc.want, ExtractEntities(tc.in)); diff != "" {
			t.Errorf("ExtractEntities(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"Who are the main players?":          KindComparison,
		"How is adoption evolving?":          KindTrend,
		"이용 행태는 어떻게 변했나?":                    KindTrend,
		"Why does it matter?":                KindGeneral,
		"Is sharepoint popular?":             KindGeneral,
		"Market share and growth by segment": KindComparison,
	}
	for in, want := range cases {
		if got := Classify(in); got != want {
			t.Errorf("Classify(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLatestYear(t *testing.T) {
	if got := LatestYear("from 2019 to 2022-2025년"); got != 2025 {
		t.Errorf("expected 2025, got %d", got)
	}
	if got := LatestYear("no years"); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}
