package prompts

import "fmt"

// CompanyExtractionSystemPrompt returns the instruction for pulling the
// sender's company name out of a thread. With fullThread the model also
// sees our own outbound messages and must ignore them.
func CompanyExtractionSystemPrompt(fullThread bool) string {
	instructions := "Attention: email bodies can contain the content of the email they reply to."
	if fullThread {
		instructions += " The thread also contains emails we sent. Ignore our own company and name the company of whoever is emailing us."
	}
	return Assemble(Slots{
		TaskContext:              "Your job is to extract the company name from the incoming emails.",
		DetailedTaskInstructions: instructions,
		OutputFormatting:         `Respond with {"companyName": "<name>"}. Use the company's common name, without legal suffixes unless they are part of the brand.`,
	})
}

// CompanyExtractionPrompt wraps the rendered emails for extraction.
func CompanyExtractionPrompt(emails string) string {
	return Assemble(Slots{
		TaskContext:         "Here are all emails:",
		ConversationHistory: emails,
		FinalRequest:        "Please extract the name of the company who is sending us emails.",
	})
}

// WebsiteSystemPrompt is the instruction for the website
// disambiguation call.
func WebsiteSystemPrompt() string {
	return Assemble(Slots{
		TaskContext:      "You identify the official website of a company from web search results.",
		OutputFormatting: `Respond with {"websiteUrl": "<url>"}. Use an empty string if no result looks like the company's own site.`,
	})
}

// WebsitePrompt asks for the website URL of companyName given search
// candidates already encoded as JSON.
func WebsitePrompt(companyName, candidatesJSON string) string {
	return Assemble(Slots{
		BackgroundData: fmt.Sprintf("Here are the results from a web search for %q:\n\n%s", companyName, candidatesJSON),
		FinalRequest:   fmt.Sprintf("Please return the website url of %s.", companyName),
	})
}
