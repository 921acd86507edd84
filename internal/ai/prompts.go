package ai

import "fmt"

// maxDocumentChars caps document text embedded in prompts to stay
// within model context limits.
const maxDocumentChars = 30000

// Jurisdiction-specific system prompts. Unknown jurisdictions fall back
// to the DEFAULT entry.
var jurisdictionPrompts = map[string]string{
	"US": "You are a legal expert specializing in United States law. " +
		"Provide analysis based on federal and state laws, citing relevant statutes and case law where applicable.",
	"US-CA": "You are a legal expert specializing in California state law. " +
		"Analyze contracts under California Civil Code and relevant case precedents.",
	"US-NY": "You are a legal expert specializing in New York state law. " +
		"Apply New York contract law and UCC provisions.",
	"EU": "You are a legal expert specializing in European Union law. " +
		"Analyze compliance with EU directives and regulations, especially GDPR.",
	"UK": "You are a legal expert specializing in United Kingdom law. " +
		"Analyze under UK common law and statutory provisions.",
	"DEFAULT": "You are a legal expert providing general legal analysis. " +
		"Identify potential issues and provide recommendations based on common legal principles.",
}

const riskAssessmentSystemPrompt = "You are a legal risk assessment expert. " +
	"Analyze documents for potential legal risks and provide quantitative scores."

func systemPromptFor(jurisdiction string) string {
	if prompt, ok := jurisdictionPrompts[jurisdiction]; ok {
		return prompt
	}
	return jurisdictionPrompts["DEFAULT"]
}

// rulesContext summarizes the regulatory landscape fed to the model
// alongside a compliance validation request.
func rulesContext(jurisdiction string) string {
	switch jurisdiction {
	case "EU":
		return "- GDPR: Data protection and privacy\n" +
			"- Consumer Rights Directive\n" +
			"- ePrivacy Directive\n"
	case "US-CA":
		return "- CCPA: California Consumer Privacy Act\n" +
			"- California Civil Code requirements\n" +
			"- Labor Code provisions\n"
	case "US":
		return "- Federal contract law\n" +
			"- UCC (Uniform Commercial Code)\n" +
			"- Consumer protection laws\n"
	default:
		return "- General contract law principles\n" +
			"- Consumer protection requirements\n" +
			"- Data protection standards\n"
	}
}

func truncateDocument(text string) string {
	if len(text) <= maxDocumentChars {
		return text
	}
	return text[:maxDocumentChars] + "\n\n[Content truncated due to length...]"
}

func contractAnalysisPrompt(docText, jurisdiction string) string {
	return fmt.Sprintf(
		"Analyze the following contract under %s law. "+
			"Please provide a structured analysis with:\n"+
			"1. Key ambiguities that need clarification\n"+
			"2. Legal risks and potential liabilities\n"+
			"3. Specific edits or additions recommended\n"+
			"4. Overall risk summary\n\n"+
			"Format your response as JSON with the following structure:\n"+
			"{\n"+
			"  \"summary\": \"Brief overall assessment\",\n"+
			"  \"ambiguities\": [\"list of ambiguous clauses\"],\n"+
			"  \"risks\": [{\"description\": \"risk description\", \"severity\": \"HIGH|MEDIUM|LOW\"}],\n"+
			"  \"suggestions\": [\"list of recommended edits\"],\n"+
			"  \"overallRiskLevel\": \"HIGH|MEDIUM|LOW\"\n"+
			"}\n\n"+
			"Contract text:\n%s",
		jurisdiction, truncateDocument(docText))
}

func researchPrompt(query, jurisdiction string) string {
	return fmt.Sprintf(
		"Conduct comprehensive legal research on the following topic in %s:\n\n"+
			"Research Query: %s\n\n"+
			"Please provide:\n"+
			"1. Summary of relevant legal principles\n"+
			"2. Key statutes and regulations\n"+
			"3. Notable case law and precedents\n"+
			"4. Practical implications and recommendations\n"+
			"5. Citations and sources\n\n"+
			"Format your response as JSON:\n"+
			"{\n"+
			"  \"summary\": \"Overview of research findings\",\n"+
			"  \"statutes\": [\"list of relevant statutes\"],\n"+
			"  \"cases\": [{\"name\": \"case name\", \"citation\": \"citation\", \"relevance\": \"why relevant\"}],\n"+
			"  \"principles\": [\"list of legal principles\"],\n"+
			"  \"recommendations\": [\"practical recommendations\"],\n"+
			"  \"sources\": [\"list of additional sources\"]\n"+
			"}",
		jurisdiction, query)
}

func riskAssessmentPrompt(docText string) string {
	return fmt.Sprintf(
		"Assess the legal risks in the following document. "+
			"Provide risk scores (0-10, where 10 is highest risk) for:\n"+
			"1. Liability exposure\n"+
			"2. Non-compete clause enforceability concerns\n"+
			"3. Intellectual property risks\n"+
			"4. Confidentiality and data protection risks\n"+
			"5. Termination and dispute resolution risks\n"+
			"6. Regulatory compliance risks\n"+
			"7. Financial liability risks\n"+
			"8. Indemnification risks\n\n"+
			"Format response as JSON:\n"+
			"{\n"+
			"  \"overallRiskScore\": 0-10,\n"+
			"  \"riskCategories\": [\n"+
			"    {\"category\": \"category name\", \"score\": 0-10, \"details\": \"explanation\"}\n"+
			"  ],\n"+
			"  \"criticalIssues\": [\"list of critical issues\"],\n"+
			"  \"recommendations\": [\"list of recommendations\"],\n"+
			"  \"summary\": \"overall risk assessment summary\"\n"+
			"}\n\n"+
			"Document:\n%s",
		truncateDocument(docText))
}

func complianceOpinionPrompt(docText, jurisdiction string) string {
	return fmt.Sprintf(
		"Validate the following document for compliance with %s regulations.\n\n"+
			"Relevant Rules and Regulations:\n%s\n\n"+
			"Analyze the document and provide:\n"+
			"1. List of compliance requirements that PASS\n"+
			"2. List of compliance requirements that FAIL\n"+
			"3. Areas of concern requiring review\n"+
			"4. Recommendations for achieving compliance\n\n"+
			"Format response as JSON:\n"+
			"{\n"+
			"  \"overallCompliant\": true/false,\n"+
			"  \"passes\": [{\"requirement\": \"requirement name\", \"details\": \"why it passes\"}],\n"+
			"  \"fails\": [{\"requirement\": \"requirement name\", \"severity\": \"HIGH|MEDIUM|LOW\", \"details\": \"why it fails\", \"recommendation\": \"how to fix\"}],\n"+
			"  \"concernAreas\": [\"list of areas needing review\"],\n"+
			"  \"recommendations\": [\"general recommendations\"],\n"+
			"  \"summary\": \"overall compliance summary\"\n"+
			"}\n\n"+
			"Document:\n%s",
		jurisdiction, rulesContext(jurisdiction), truncateDocument(docText))
}
