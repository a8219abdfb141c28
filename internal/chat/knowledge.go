package chat

import (
	"fmt"
	"strings"
)

const InstructionPrompt = `You are FinBot, a professional financial assistant.

Answer the user's question in clear, concise bullet points only. No preface, no closing lines. Use simple language and keep bullets short.

Question: `

const GreetingText = "Hello! I'm FinBot, your AI Financial Assistant. I can help you understand banking terms, loans, investments, and protect you from fraud. What financial question can I help you with today?"

const (
	SourceGreeting      = "FinBot AI Assistant"
	SourceFinBot        = "FinBot"
	SourceKnowledgeBase = "FinBot Knowledge Base"
	SourceErrorHandler  = "Error Handler"
)

// QuickQuestions — три кнопки быстрого вопроса.
var QuickQuestions = [...]string{
	"What is a phishing scam and how can I protect myself?",
	"Explain credit default swaps in simple terms",
	"How can I secure my online banking?",
}

func BuildPrompt(question string) string {
	return InstructionPrompt + question
}

type cannedAnswer struct {
	topic    string
	keywords []string
	answer   string
}

// порядок важен: побеждает первый совпавший набор
var cannedAnswers = []cannedAnswer{
	{
		topic:    "fraud",
		keywords: []string{"phishing", "scam", "fraud"},
		answer: `🛡️ **Phishing & Fraud Protection**

**Warning Signs:**
• Urgent messages about account suspension
• Requests for passwords or personal info
• Suspicious links or attachments
• Poor grammar/spelling
• Generic greetings

**Protection Steps:**
• Never click suspicious links
• Verify by calling your bank directly
• Use two-factor authentication
• Monitor accounts regularly
• Keep software updated

**If Targeted:**
• Don't respond or click anything
• Report to your bank immediately
• Change passwords if compromised

*Sources: FTC, Anti-Phishing Working Group*`,
	},
	{
		topic:    "cds",
		keywords: []string{"credit default swap", "cds"},
		answer: `📈 **Credit Default Swaps (CDS)**

**What It Is:**
A financial contract that acts like insurance against loan defaults.

**How It Works:**
• Buyer pays premiums to seller
• If borrower defaults, seller pays buyer
• Allows risk transfer without owning debt
• Used for hedging or speculation

**Key Risks:**
• Counterparty risk
• Market volatility
• Complex hidden risks

**2008 Crisis:**
CDS played a major role when AIG couldn't cover massive payouts.

*Sources: SEC, Federal Reserve, FINRA*`,
	},
	{
		topic:    "banking",
		keywords: []string{"banking", "security", "online"},
		answer: `🔒 **Online Banking Security**

**Strong Authentication:**
• Unique passwords for banking
• Enable two-factor authentication
• Use biometric login when available

**Safe Habits:**
• Always use official bank website
• Never bank on public Wi-Fi
• Log out completely when done
• Check accounts regularly

**Device Security:**
• Keep devices updated
• Use antivirus software
• Don't use shared computers

**Red Flags:**
• Unexpected lockouts
• Unfamiliar transactions
• Verification emails
• Pop-ups asking for info

*Sources: FDIC, CISA, American Bankers Association*`,
	},
}

const genericAnswer = `💼 **Financial Guidance**

Thank you for your question: %q

**I can help with:**
• Banking terms and concepts
• Loan types and credit
• Investment basics
• Fraud protection
• Financial planning
• Insurance concepts

**Important:** This is educational information only. Always consult licensed financial advisors for personalized advice.

**Ask me about:** Specific financial topics for detailed guidance.

*Sources: CFPB, Financial Industry Best Practices*`

// CannedAnswer returns the first matching templated answer and its topic
// ("general" when nothing matched).
func CannedAnswer(question string) (topic, answer string) {
	q := strings.ToLower(question)
	for _, c := range cannedAnswers {
		for _, kw := range c.keywords {
			if strings.Contains(q, kw) {
				return c.topic, c.answer
			}
		}
	}
	return "general", fmt.Sprintf(genericAnswer, question)
}

func apologyText(question string) string {
	return fmt.Sprintf(`I apologize for the technical difficulty. Please try asking your question again.

**Your question:** %q

I'm here to help with banking, investments, loans, and security questions.`, question)
}
