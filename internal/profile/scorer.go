// Package profile converts risk-profiling questionnaire answers into an
// investor risk band and investment horizon.
//
// Scoring is a fixed rubric: every single-choice question maps its option
// index to points, the multi-select experience question contributes the
// highest points among the selected options, and the total is classified
// into one of five bands using inclusive lower thresholds checked from the
// most aggressive band down. All functions are pure and safe for
// concurrent use.
package profile

// Answers is one respondent's questionnaire. Every value is a 1-based option
// index into the question's option list.
type Answers struct {
	Q1       int   `json:"q1"        yaml:"q1"`
	Q2       int   `json:"q2"        yaml:"q2"`
	Q3       []int `json:"q3"        yaml:"q3"` // multi-select
	Q3Period int   `json:"q3_period" yaml:"q3_period"`
	Q4       int   `json:"q4"        yaml:"q4"`
	Q5       int   `json:"q5"        yaml:"q5"`
	Q6       int   `json:"q6"        yaml:"q6"`
	Q8       *int  `json:"q8,omitempty" yaml:"q8,omitempty"` // vulnerability flag, not scored
	Q9       int   `json:"q9"        yaml:"q9"`
	Q10      int   `json:"q10"       yaml:"q10"`
	Q11      int   `json:"q11"       yaml:"q11"`
}

// Profile is the scoring result handed to the recommendation step.
//
// InvestmentHorizon is the raw q10 option index (1-5), a bucket identifier
// rather than a number of years. See Horizon for the bucket label.
type Profile struct {
	RiskLevel         RiskLevel `json:"risk_level"         yaml:"risk_level"`
	InvestmentHorizon int       `json:"investment_horizon" yaml:"investment_horizon"`
}

// Compute validates the answers and returns the respondent's risk profile.
// It fails with *InvalidAnswerError naming the first offending question.
func Compute(a Answers) (Profile, error) {
	total, err := Score(a)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		RiskLevel:         Classify(total),
		InvestmentHorizon: a.Q10,
	}, nil
}

// Score validates the answers and returns the rubric total, always within
// [MinScore, MaxScore].
func Score(a Answers) (int, error) {
	experience, err := maxExperience(a.Q3)
	if err != nil {
		return 0, err
	}

	single := []struct {
		table  scoreTable
		option int
	}{
		{incomeOutlookTable, a.Q1},
		{financialAssetsTable, a.Q2},
		{experiencePeriodTable, a.Q3Period},
		{objectiveTable, a.Q4},
		{lossToleranceTable, a.Q5},
		{knowledgeTable, a.Q6},
		{ageTable, a.Q9},
		{horizonTable, a.Q10},
		{incomeTable, a.Q11},
	}

	total := experience
	for _, s := range single {
		points, err := s.table.lookup(s.option)
		if err != nil {
			return 0, err
		}
		total += points
	}
	return total, nil
}

// maxExperience returns the highest points among the selected experience
// options. Additional lower-risk selections neither add nor subtract.
func maxExperience(selected []int) (int, error) {
	if len(selected) == 0 {
		return 0, &InvalidAnswerError{Question: experienceTable.question, Reason: "at least one option must be selected"}
	}
	best := -1
	for _, option := range selected {
		points, err := experienceTable.lookup(option)
		if err != nil {
			return 0, err
		}
		if points > best {
			best = points
		}
	}
	return best, nil
}

// Classify maps a rubric total to its risk band.
func Classify(total int) RiskLevel {
	switch {
	case total >= aggressiveGrowthMin:
		return AggressiveGrowth
	case total >= activeGrowthMin:
		return ActiveGrowth
	case total >= riskNeutralMin:
		return RiskNeutral
	case total >= conservativeMin:
		return Conservative
	default:
		return StabilityFocused
	}
}

// Validate checks a profile received back from a client before it is used
// as recommendation context. Korean band labels are normalised.
func (p Profile) Validate() (Profile, error) {
	level, err := ParseRiskLevel(string(p.RiskLevel))
	if err != nil {
		return Profile{}, &InvalidAnswerError{Question: "risk_level", Reason: err.Error()}
	}
	if _, err := horizonTable.lookup(p.InvestmentHorizon); err != nil {
		return Profile{}, &InvalidAnswerError{Question: "investment_horizon", Value: p.InvestmentHorizon}
	}
	return Profile{RiskLevel: level, InvestmentHorizon: p.InvestmentHorizon}, nil
}
