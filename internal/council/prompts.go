package council

import (
	"fmt"
	"strings"
)

// Label returns the anonymization token for the i-th Stage 1 success.
func Label(i int) string {
	return fmt.Sprintf("Response %c", rune('A'+i))
}

// solutionPrompt wraps the user query with response guidance for the
// Stage 1 fan-out.
func solutionPrompt(userQuery string) string {
	return userQuery + `

RESPONSE GUIDANCE:
- Answer directly. Lead with the answer, not preamble or restatement of the question.
- Use plain text unless the user explicitly asks for code.
- If code is explicitly requested, provide only the code without extra commentary.
- Keep responses concise. Use bullet points for lists, short paragraphs for prose.
- Make reasonable assumptions if details are missing.
- Do NOT ask questions or request clarification.
- Do NOT add disclaimers, caveats, or offers of further help.
- Do NOT reference tools, files, or the council process.`
}

// rankingPrompt builds the Stage 2 blind ranking prompt over the
// anonymized Stage 1 replies.
func rankingPrompt(userQuery string, stage1 []ModelReply) string {
	var responses strings.Builder
	for i, r := range stage1 {
		if i > 0 {
			responses.WriteString("\n\n")
		}
		fmt.Fprintf(&responses, "%s:\n%s", Label(i), r.Content)
	}

	return fmt.Sprintf(`Evaluate responses to this question: %s

Responses (anonymized):
%s

First determine whether the user explicitly requested code. Use the criteria that match the request type:
- If code was requested, apply CODE CRITERIA.
- If code was not requested, apply PLAIN TEXT CRITERIA and do not penalize responses for lacking code.

PLAIN TEXT CRITERIA (weighted):
1. CORRECTNESS (45%%):
   - Directly answers the request?
   - Accurate and free of factual errors?
   - No contradictions?
2. COMPLETENESS (20%%):
   - Covers key requirements?
   - Reasonable assumptions stated?
   - Handles edge cases when relevant?
3. CLARITY (15%%):
   - Clear structure and concise wording?
   - Easy to follow?
4. SAFETY/SECURITY (10%%):
   - Avoids unsafe guidance?
   - Notes risks or limitations when important?
5. PRACTICALITY (10%%):
   - Actionable and useful?
   - No unnecessary extras?

CODE CRITERIA (weighted):
1. CORRECTNESS (40%%):
   - Function signature matches requirements?
   - Solves the exact problem stated?
   - All edge cases handled?
   - No logic errors or bugs?
   - Production-ready?
2. SECURITY (20%%):
   - Input validation present?
   - Injection risks prevented?
   - Safe error messages?
   - Secure coding practices?
3. CODE QUALITY (15%%):
   - Documentation present?
   - Readable and clear?
   - Follows best practices?
   - Appropriate style?
4. PERFORMANCE (10%%):
   - Efficient algorithm?
   - Good time/space complexity?
   - Appropriate data structures?
5. MAINTAINABILITY (10%%):
   - Modular structure?
   - Easy to understand?
   - Extensible design?
6. STANDARD PRACTICES (5%%):
   - Uses standard library?
   - Proven patterns?
   - Conservative approach?

RED FLAGS (rank lower):
- For plain text requests:
  - Does not answer the question
  - Incorrect or misleading content
  - Requests clarification or asks questions
  - Provides code when code was not requested
- For code requests:
  - Wrong function signature
  - Missing required functionality
  - Extra unrelated functions
  - Logic errors/bugs
  - Missing edge cases
  - Security vulnerabilities
  - No code provided

IMPORTANT:
- Apply only the criteria that match the request type.
- Prefer standard solutions over experimental ones.
- Flag exotic approaches.
- Rank solutions that solve the exact problem highest.
- Provide ranking only. Do not ask questions.

Evaluate each response briefly, then provide ranking:

FINAL RANKING:
1. Response X
2. Response Y
3. Response Z`, userQuery, responses.String())
}

// chairmanPrompt builds the Stage 3 synthesis prompt with attributed
// replies and rankings.
func chairmanPrompt(userQuery string, stage1 []ModelReply, stage2 []Ranking) string {
	var replies strings.Builder
	for i, r := range stage1 {
		if i > 0 {
			replies.WriteString("\n\n")
		}
		fmt.Fprintf(&replies, "Model: %s\nResponse: %s", r.Model, r.Content)
	}

	var rankings strings.Builder
	for i, r := range stage2 {
		if i > 0 {
			rankings.WriteString("\n\n")
		}
		fmt.Fprintf(&rankings, "Model: %s\nRanking: %s", r.Model, r.Raw)
	}

	return fmt.Sprintf(`Synthesize the best response from multiple responses.

Original question: %s

Individual responses:
%s

Peer rankings:
%s

SYNTHESIS RULES:
1. PRIORITIZE correctness and security (mandatory)
2. PREFER responses ranked highly by multiple models (consensus)
3. SYNTHESIZE best aspects: accuracy from one, clarity from another, brevity from a third
4. USE plain text unless the user explicitly asked for code
5. If code is requested, provide code only (no preamble, no process explanations)
6. NEVER add meta-commentary about the council process, model names, or how the answer was produced
7. Do NOT restate the question. Do NOT add disclaimers or offers of further help
8. Keep the response concise. Use bullet points for lists, short paragraphs for prose

After the response, add exactly two metadata lines (these will be stripped from user-facing output):
# Primary source: ModelName (or "Synthesized from multiple models" if combining)
# Confidence: XX%% (your confidence this response is correct, 0-100)

Provide the response directly:`, userQuery, replies.String(), rankings.String())
}

// titlePrompt asks for a short conversation title.
func titlePrompt(userQuery string) string {
	return fmt.Sprintf(`Generate a very short title (3-5 words maximum) that summarizes the following question.
The title should be concise and descriptive. Do not use quotes or punctuation in the title.

Question: %s

Title:`, userQuery)
}
