package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/seenimoa/riskfolio/internal/profile"
)

// --- Profile Command ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Score questionnaire answers into a risk profile",
	Long: `Score questionnaire answers read from a JSON or YAML file ("-" for stdin)
or given as flags.

Examples:
  riskfolio profile --answers answers.yaml
  riskfolio profile --q1 1 --q2 1 --q3 3 --q3-period 3 --q4 3 --q5 3 --q6 3 --q9 3 --q10 3 --q11 3
  riskfolio profile --answers answers.json --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			answers profile.Answers
			err     error
		)
		if path, _ := cmd.Flags().GetString("answers"); path != "" {
			answers, err = readAnswers(path, cmd.InOrStdin())
		} else {
			answers, err = answersFromFlags(cmd)
		}
		if err != nil {
			return err
		}

		p, err := profile.Compute(answers)
		if err != nil {
			return err
		}
		total, _ := profile.Score(answers)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		}
		printProfile(cmd.OutOrStdout(), p, total)
		return nil
	},
}

func init() {
	profileCmd.Flags().String("answers", "", "answers file (.json, .yaml or .yml; - for stdin JSON)")
	profileCmd.Flags().Bool("json", false, "print the profile as JSON")
	for _, q := range []string{"q1", "q2", "q4", "q5", "q6", "q8", "q9", "q10", "q11"} {
		profileCmd.Flags().Int(q, 0, "option index for "+q)
	}
	profileCmd.Flags().IntSlice("q3", nil, "selected option indexes for q3 (comma separated)")
	profileCmd.Flags().Int("q3-period", 0, "option index for q3_period")
}

// readAnswers decodes an answers file. The format follows the extension;
// anything else, including stdin, is read as JSON.
func readAnswers(path string, stdin io.Reader) (profile.Answers, error) {
	var (
		a    profile.Answers
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return a, fmt.Errorf("read answers: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &a)
	default:
		err = json.Unmarshal(data, &a)
	}
	if err != nil {
		return a, fmt.Errorf("parse answers %s: %w", path, err)
	}
	return a, nil
}

func answersFromFlags(cmd *cobra.Command) (profile.Answers, error) {
	flags := cmd.Flags()
	get := func(name string) int {
		v, _ := flags.GetInt(name)
		return v
	}
	a := profile.Answers{
		Q1:       get("q1"),
		Q2:       get("q2"),
		Q3Period: get("q3-period"),
		Q4:       get("q4"),
		Q5:       get("q5"),
		Q6:       get("q6"),
		Q9:       get("q9"),
		Q10:      get("q10"),
		Q11:      get("q11"),
	}
	a.Q3, _ = flags.GetIntSlice("q3")
	if flags.Changed("q8") {
		q8 := get("q8")
		a.Q8 = &q8
	}
	if !flags.Changed("q1") && len(a.Q3) == 0 {
		return a, errors.New("provide --answers or the answer flags (see --help)")
	}
	return a, nil
}

func printProfile(w io.Writer, p profile.Profile, total int) {
	bandColor := color.New(color.Bold)
	switch p.RiskLevel.Rank() {
	case 5, 4:
		bandColor.Add(color.FgRed)
	case 3:
		bandColor.Add(color.FgYellow)
	default:
		bandColor.Add(color.FgGreen)
	}

	fmt.Fprintf(w, "  위험등급:  %s (%s)\n", bandColor.Sprint(p.RiskLevel.Korean()), p.RiskLevel)
	fmt.Fprintf(w, "  총점:      %d / %d\n", total, profile.MaxScore)
	horizon := strconv.Itoa(p.InvestmentHorizon)
	if bucket, ok := profile.Horizon(p.InvestmentHorizon); ok {
		horizon += " (" + bucket.Label + ")"
	}
	fmt.Fprintf(w, "  투자기간:  %s\n", horizon)
}

// --- Survey Command ---

const surveyDone = "선택 완료"

var surveyCmd = &cobra.Command{
	Use:   "survey",
	Short: "Answer the questionnaire interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		answers := map[string]interface{}{}
		for _, q := range profile.Questionnaire() {
			if q.MultiSelect {
				selected, err := askMulti(q)
				if err != nil {
					return err
				}
				answers[q.ID] = selected
				continue
			}
			idx, _, err := (&promptui.Select{Label: q.Text, Items: q.Options, Size: len(q.Options)}).Run()
			if err != nil {
				return err
			}
			answers[q.ID] = idx + 1
		}

		// Round-trip through JSON so the survey and API share one decoder.
		raw, err := json.Marshal(answers)
		if err != nil {
			return err
		}
		var a profile.Answers
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}

		p, err := profile.Compute(a)
		if err != nil {
			return err
		}
		total, _ := profile.Score(a)
		fmt.Fprintln(cmd.OutOrStdout())
		printProfile(cmd.OutOrStdout(), p, total)

		if save, _ := cmd.Flags().GetString("save"); save != "" {
			out, err := yaml.Marshal(a)
			if err != nil {
				return err
			}
			if err := os.WriteFile(save, out, 0o644); err != nil {
				return fmt.Errorf("save answers: %w", err)
			}
			color.Cyan("answers saved to %s", save)
		}
		return nil
	},
}

func init() {
	surveyCmd.Flags().String("save", "", "write the answers to a YAML file")
}

// askMulti repeats a select prompt until the respondent picks "선택 완료".
func askMulti(q profile.Question) ([]int, error) {
	var selected []int
	chosen := map[int]bool{}
	for {
		items := make([]string, 0, len(q.Options)+1)
		for i, opt := range q.Options {
			mark := "[ ] "
			if chosen[i+1] {
				mark = "[x] "
			}
			items = append(items, mark+opt)
		}
		items = append(items, surveyDone)

		idx, _, err := (&promptui.Select{Label: q.Text, Items: items, Size: len(items)}).Run()
		if err != nil {
			return nil, err
		}
		if idx == len(q.Options) {
			if len(selected) == 0 {
				color.Yellow("하나 이상 선택하세요")
				continue
			}
			return selected, nil
		}
		option := idx + 1
		if chosen[option] {
			delete(chosen, option)
			for i, s := range selected {
				if s == option {
					selected = append(selected[:i], selected[i+1:]...)
					break
				}
			}
			continue
		}
		chosen[option] = true
		selected = append(selected, option)
	}
}
