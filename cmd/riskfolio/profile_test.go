package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/seenimoa/riskfolio/internal/profile"
)

// ════════════════════════════════════════════════════════════════════
// Answers Files
// ════════════════════════════════════════════════════════════════════

const answersYAML = `q1: 1
q2: 1
q3: [3]
q3_period: 3
q4: 3
q5: 3
q6: 3
q9: 3
q10: 3
q11: 3
`

const answersJSON = `{"q1":1,"q2":1,"q3":[3],"q3_period":3,"q4":3,"q5":3,"q6":3,"q9":3,"q10":3,"q11":3}`

func TestReadAnswers(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"answers.yaml": answersYAML,
		"answers.yml":  answersYAML,
		"answers.json": answersJSON,
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}

		a, err := readAnswers(path, nil)
		if err != nil {
			t.Fatalf("readAnswers(%s): %v", name, err)
		}
		p, err := profile.Compute(a)
		if err != nil {
			t.Fatalf("Compute(%s): %v", name, err)
		}
		if p.RiskLevel != profile.AggressiveGrowth || p.InvestmentHorizon != 3 {
			t.Errorf("%s: got %+v", name, p)
		}
	}
}

func TestReadAnswersStdin(t *testing.T) {
	a, err := readAnswers("-", strings.NewReader(answersJSON))
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Q3) != 1 || a.Q3[0] != 3 || a.Q3Period != 3 {
		t.Errorf("unexpected answers: %+v", a)
	}
}

func TestReadAnswersErrors(t *testing.T) {
	if _, err := readAnswers(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{q1:"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := readAnswers(path, nil)
	if err == nil || !strings.Contains(err.Error(), "broken.json") {
		t.Errorf("expected parse error naming the file, got %v", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// Flags
// ════════════════════════════════════════════════════════════════════

// newProfileFlags returns a fresh command carrying the profile flags.
func newProfileFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	fresh := &cobra.Command{Use: "profile"}
	for _, q := range []string{"q1", "q2", "q4", "q5", "q6", "q8", "q9", "q10", "q11"} {
		fresh.Flags().Int(q, 0, "")
	}
	fresh.Flags().IntSlice("q3", nil, "")
	fresh.Flags().Int("q3-period", 0, "")
	if err := fresh.ParseFlags(args); err != nil {
		t.Fatal(err)
	}
	return fresh
}

func TestAnswersFromFlags(t *testing.T) {
	cmd := newProfileFlags(t,
		"--q1", "1", "--q2", "1", "--q3", "2,4", "--q3-period", "3",
		"--q4", "3", "--q5", "3", "--q6", "3", "--q8", "1",
		"--q9", "3", "--q10", "5", "--q11", "3")

	a, err := answersFromFlags(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Q3) != 2 || a.Q3[0] != 2 || a.Q3[1] != 4 {
		t.Errorf("Q3 = %v, want [2 4]", a.Q3)
	}
	if a.Q8 == nil || *a.Q8 != 1 {
		t.Errorf("Q8 = %v, want 1", a.Q8)
	}
	if a.Q10 != 5 {
		t.Errorf("Q10 = %d, want 5", a.Q10)
	}
}

func TestAnswersFromFlagsEmpty(t *testing.T) {
	if _, err := answersFromFlags(newProfileFlags(t)); err == nil {
		t.Error("expected error when no answers are given")
	}
}

func TestPrintProfile(t *testing.T) {
	var buf bytes.Buffer
	printProfile(&buf, profile.Profile{RiskLevel: profile.RiskNeutral, InvestmentHorizon: 4}, 22)

	out := buf.String()
	for _, want := range []string{"위험중립형", "risk-neutral", "22 / 50", "4 (3~5년)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
