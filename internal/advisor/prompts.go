package advisor

import (
	"fmt"
	"strings"

	"github.com/seenimoa/riskfolio/internal/llm"
	"github.com/seenimoa/riskfolio/internal/profile"
)

// ── System Prompt ──

// SystemPrompt frames every recommendation. The retrieved excerpts are
// appended under "참고 자료".
const SystemPrompt = `당신은 개인 투자자를 돕는 투자 자문 어시스턴트입니다.

## 지침
1. 아래 참고 자료에 근거해서만 답하고, 자료에 없는 수치는 만들지 마세요.
2. 투자자의 위험등급과 투자기간에 맞는 자산 배분과 상품을 제안하세요.
3. 근거로 사용한 자료는 [번호]로 표시하세요.
4. 자료가 부족하면 부족하다고 말하세요.
5. 한국어로 간결하게 답하세요.`

// personaLine states the investor profile. The horizon is the raw q10
// option index, kept verbatim.
func personaLine(p profile.Profile) string {
	line := fmt.Sprintf("당신은 %s 투자자이며, 투자기간은 %d년입니다.", p.RiskLevel.Korean(), p.InvestmentHorizon)
	if bucket, ok := profile.Horizon(p.InvestmentHorizon); ok {
		line += fmt.Sprintf(" (투자기간 구분: %s)", bucket.Label)
	}
	return line
}

// buildMessages assembles the conversation sent to the model: the system
// prompt with retrieved context, prior turns, then the persona and question.
func buildMessages(p profile.Profile, question, context string, history []Turn) []llm.Message {
	var sys strings.Builder
	sys.WriteString(SystemPrompt)
	sys.WriteString("\n\n## 참고 자료\n")
	if context == "" {
		sys.WriteString("(관련 자료 없음)\n")
	} else {
		sys.WriteString(context)
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.SystemMessage(sys.String()))
	for _, turn := range history {
		msgs = append(msgs, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	msgs = append(msgs, llm.UserMessage(personaLine(p)+"\n"+question))
	return msgs
}
