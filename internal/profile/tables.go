package profile

// scoreTable maps a 1-based option index to its point value.
type scoreTable struct {
	question string
	points   []int
}

// lookup returns the points for a 1-based option index.
func (t scoreTable) lookup(option int) (int, error) {
	if option < 1 || option > len(t.points) {
		return 0, invalidOption(t.question, option)
	}
	return t.points[option-1], nil
}

// options returns the number of options the question offers.
func (t scoreTable) options() int {
	return len(t.points)
}

// Fixed rubric. Experience (q3) and experience period (q3_period) are
// separate tables even though they belong to the same form question.
var (
	incomeOutlookTable    = scoreTable{question: "q1", points: []int{5, 3, 1}}
	financialAssetsTable  = scoreTable{question: "q2", points: []int{1, 2, 3, 4, 5}}
	experienceTable       = scoreTable{question: "q3", points: []int{0, 6, 3, 1}}
	experiencePeriodTable = scoreTable{question: "q3_period", points: []int{1, 3, 5}}
	objectiveTable        = scoreTable{question: "q4", points: []int{1, 3, 5}}
	lossToleranceTable    = scoreTable{question: "q5", points: []int{1, 3, 4}}
	knowledgeTable        = scoreTable{question: "q6", points: []int{1, 3, 5, 5}}
	ageTable              = scoreTable{question: "q9", points: []int{1, 3, 5, 2, 1}}
	horizonTable          = scoreTable{question: "q10", points: []int{1, 2, 3, 4, 5}}
	incomeTable           = scoreTable{question: "q11", points: []int{1, 2, 3, 4, 5}}
)

// Band thresholds, inclusive lower bounds checked from the top down.
const (
	aggressiveGrowthMin = 30
	activeGrowthMin     = 25
	riskNeutralMin      = 20
	conservativeMin     = 15
)

// MinScore and MaxScore bound every valid total: the sums of the lowest
// and highest points of each table.
const (
	MinScore = 9
	MaxScore = 50
)
