package prompts

import (
	"fmt"
	"strings"
)

// ForwardTarget is one human the reply model may hand a conversation
// to, as rendered into the system prompt.
type ForwardTarget struct {
	Email     string
	Name      string
	Condition string
}

const replyInstructions = `Use the provided research data (if you dont have enough or not about the right company use researchCompany) to identify credible trigger(s) about the recipient (e.g., recent news, product launch, event, hiring, funding, case study mention). Weave the trigger into the email like a human would: a brief, conversational nod, not a list. Avoid keyword dumps, dates, titles, or enumerations. Do not restate obvious facts about the company; use the trigger only to personalize why we're reaching out. If none are credible, say so briefly and continue without fabricating. Use a warm, succinct tone with contractions.`

const replyExamples = `Trigger examples: 'Attended Webflow Conf 2024', 'Launched SMS booking feature', 'Raised a seed round', 'Opened a new location in Austin'.

Style examples:
- Bad: "Noticed you've been serving the SF Bay Area since 2011, handle 24/7 emergencies, and sit on the PHCC SF board."
- Good: "Saw you're involved with PHCC SF. That focus on standards stood out. Thought this might be useful for your team…"`

const replyFormatting = `Return production-ready BODY HTML (no <html>, <head>, or <body> tags) similar to Gmail/Outlook. Use simple tags: p, br, strong, em, a, ul, li. Keep inline styles minimal; use font-family: -apple-system, Segoe UI, Roboto, Helvetica, Arial, sans-serif; font-size: 14px; line-height: 1.5; max-width: 600px. Keep it concise and natural. Include credible trigger(s) when available, referenced naturally.

When you are done, respond with a single JSON object of the form {"responseHtml": "<the body html>"} and nothing else.`

const replyGrounding = `Only make claims about us that this description supports. If the customer asks about something it does not cover, say you'll check with the team instead of guessing.`

// ReplySystemPrompt returns the persona, grounding, and formatting
// instructions for the reply model. The forwarding block is included
// only when forwards is non-empty.
func ReplySystemPrompt(assistantName, companyInfo string, forwards []ForwardTarget) string {
	instructions := replyInstructions
	if block := forwardingBlock(forwards); block != "" {
		instructions += "\n\n" + block
	}

	return Assemble(Slots{
		TaskContext:              fmt.Sprintf("You are a helpful assistant that answers emails from customers. Your name is %s.", assistantName),
		BackgroundData:           fmt.Sprintf("Here is everything you need to know about us: %s.\n\n%s", strings.TrimRight(strings.TrimSpace(companyInfo), "."), replyGrounding),
		DetailedTaskInstructions: instructions,
		Examples:                 replyExamples,
		OutputFormatting:         replyFormatting,
	})
}

func forwardingBlock(forwards []ForwardTarget) string {
	if len(forwards) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("You can hand this conversation to a colleague with forwardTool. Forward only when one of these rules applies, and only to an address listed here:\n")
	for _, f := range forwards {
		b.WriteString("- ")
		b.WriteString(f.Email)
		if f.Name != "" {
			b.WriteString(" (" + f.Name + ")")
		}
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(f.Condition))
		b.WriteString("\n")
	}
	b.WriteString("The note should tell the colleague briefly why you forwarded. After forwarding, still write a short reply that lets the customer know a colleague will follow up.")
	return b.String()
}

const replyFinalRequest = `Answer the latest inbound email naturally. Include credible trigger(s) from the research when available, but mention them subtly and in your own words: no lists, no keyword dumps, no dates, and no quoting their site. Focus on why it matters and how we can help. If none are credible, say so briefly and proceed without fabricating. Return only the BODY HTML (no <html>, <head>, or <body> tags).`

const engagedSuffix = ` If the thread shows they are already engaged (e.g., asking specifics, evaluating, or discussing next steps), skip prospecting triggers and CTAs; focus on answering clearly without pitching or proposing meetings unless asked.`

// ReplyUserPrompt returns the per-email prompt: research about the
// sender's company, the rendered thread, and the final request. When
// engaged is true the request steers away from prospecting language.
func ReplyUserPrompt(companyName, researchContext, conversation string, engaged bool) string {
	final := replyFinalRequest
	if engaged {
		final += engagedSuffix
	}

	return Assemble(Slots{
		TaskContext:         "Here is the full conversation:",
		BackgroundData:      fmt.Sprintf("Here is research about %s that you can reference for a relevant trigger. Use it only if credible and avoid fabrication.\n\n%s", companyName, researchContext),
		ConversationHistory: conversation,
		FinalRequest:        final,
	})
}
