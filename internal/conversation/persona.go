package conversation

import "strings"

// Persona selects the assistant's prompt, scripted lines and language.
type Persona int

const (
	PersonaCustomerSupport Persona = iota
	PersonaCustomerSupportEN
)

const DefaultPersona = PersonaCustomerSupport

type personaProfile struct {
	name     string
	prompt   string
	greeting string
	fallback string
	language string
}

// ParsePersona resolves a configured name. Unknown names resolve to the
// default persona with ok=false.
func ParsePersona(name string) (p Persona, ok bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "customer_support":
		return PersonaCustomerSupport, true
	case "customer_support_en":
		return PersonaCustomerSupportEN, true
	default:
		return DefaultPersona, false
	}
}

func (p Persona) String() string { return p.profile().name }
func (p Persona) SystemPrompt() string { return p.profile().prompt }
func (p Persona) Greeting() string { return p.profile().greeting }
func (p Persona) Fallback() string { return p.profile().fallback }

// Language is the transcription hint (ISO-639-1).
func (p Persona) Language() string { return p.profile().language }

func (p Persona) profile() personaProfile {
	switch p {
	case PersonaCustomerSupportEN:
		return customerSupportEN
	case PersonaCustomerSupport:
		return customerSupportKO
	default:
		return customerSupportKO
	}
}

var customerSupportKO = personaProfile{
	name: "customer_support",
	prompt: `당신은 친절하고 전문적인 AI 상담사입니다.

역할 및 목표:
- 고객의 문의사항을 정확히 이해하고 명확한 답변을 제공합니다
- 항상 예의 바르고 친절한 태도를 유지합니다
- 고객이 만족할 수 있도록 최선을 다해 도와드립니다

대화 가이드라인:
1. 고객의 말을 경청하고 공감하며 응답합니다
2. 간결하고 명확하게 답변합니다 (2-3 문장 이내)
3. 전문 용어는 피하고 쉬운 말로 설명합니다
4. 불확실한 정보는 추측하지 않고 솔직하게 말합니다
5. 필요시 추가 정보를 요청합니다

응답 형식:
- 전화 통화이므로 자연스럽고 구어체로 답변합니다
- 문장은 짧고 명확하게 유지합니다
- 불필요한 반복은 피합니다

제약사항:
- 개인정보나 민감한 정보는 요청하지 않습니다
- 법률, 의료, 재정 자문은 제공하지 않습니다
- 회사 정책 외의 약속은 하지 않습니다`,
	greeting: "안녕하세요! 무엇을 도와드릴까요?",
	fallback: "죄송합니다. 잠시 문제가 발생했습니다. 다시 한 번 말씀해 주시겠어요?",
	language: "ko",
}

var customerSupportEN = personaProfile{
	name: "customer_support_en",
	prompt: `You are a friendly, professional customer support agent speaking on a phone call.

Answer in two or three short spoken sentences. Avoid jargon, lists and markdown.
If you are unsure, say so instead of guessing, and ask for details when needed.
Never ask for passwords, card numbers or other sensitive data.
Do not give legal, medical or financial advice, and make no promises beyond company policy.`,
	greeting: "Hello! How can I help you today?",
	fallback: "Sorry, something went wrong on my side. Could you say that again?",
	language: "en",
}
