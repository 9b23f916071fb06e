package profile

// Question is one entry of the risk-profiling form as shown to respondents.
type Question struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	Options     []string `json:"options"`
	MultiSelect bool     `json:"multi_select,omitempty"`
	Scored      bool     `json:"scored"`
}

var questionnaire = []Question{
	{ID: "q1", Text: "① 향후 수입 예상", Options: []string{"유지/증가", "감소/불안정", "현금 주수입"}, Scored: true},
	{ID: "q2", Text: "② 금융자산 비중", Options: []string{"5% 이하", "10% 이하", "20% 이하", "30% 이하", "30% 초과"}, Scored: true},
	{ID: "q3", Text: "③ 투자경험(복수)", Options: []string{"무경험", "하이리스크 상품", "주식·펀드·일임", "채권·신탁"}, MultiSelect: true, Scored: true},
	{ID: "q3_period", Text: "③ 기간", Options: []string{"1년미만", "1~3년미만", "3년이상"}, Scored: true},
	{ID: "q4", Text: "④ 투자목적", Options: []string{"원금보존", "수익추구(안정)", "고수익추구"}, Scored: true},
	{ID: "q5", Text: "⑤ 감내 손실", Options: []string{"소액 손실", "중간 손실", "고수익+고위험"}, Scored: true},
	{ID: "q6", Text: "⑥ 금융지식 수준", Options: []string{"예적금만", "설명 후 결정", "일반상품 이해", "파생상품 포함 이해"}, Scored: true},
	{ID: "q8", Text: "⑦ 금융취약 확인", Options: []string{"취약", "해당없음"}},
	{ID: "q9", Text: "⑧ 나이", Options: []string{"20세 미만", "20~35", "35~50", "50~60", "65 이상"}, Scored: true},
	{ID: "q10", Text: "⑨ 투자예정기간", Options: []string{"1년미만", "1~2년", "2~3년", "3~5년", "5년이상"}, Scored: true},
	{ID: "q11", Text: "⑩ 연소득", Options: []string{"<2천", "2~5천", "5~7천", "7~1억", "1억+"}, Scored: true},
}

// Questionnaire returns the form in display order. The slice is a copy.
func Questionnaire() []Question {
	out := make([]Question, len(questionnaire))
	for i, q := range questionnaire {
		q.Options = append([]string(nil), q.Options...)
		out[i] = q
	}
	return out
}

// HorizonBucket describes a q10 option.
type HorizonBucket struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// Horizon returns the bucket for a q10 option index. The label is for
// display only; profiles keep the raw index.
func Horizon(index int) (HorizonBucket, bool) {
	labels := questionnaire[9].Options
	if index < 1 || index > len(labels) {
		return HorizonBucket{}, false
	}
	return HorizonBucket{Index: index, Label: labels[index-1]}, true
}
