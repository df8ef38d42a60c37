package gateway

import (
	"fmt"
	"strings"
)

// Prompt builders. Wording is deliberately plain; the contract with the
// model is carried by the structural instructions (length bounds, JSON
// schema), not prose style. All prompts ask for the source language so
// Arabic material gets Arabic output.

func summaryPrompt(text string, maxWords int, notes string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Summarize the following study material in at most %d words. ", maxWords)
	sb.WriteString("Use markdown with short headings and bullet points where helpful. ")
	sb.WriteString("Respond in the same language as the material.\n")
	if notes != "" {
		fmt.Fprintf(&sb, "Instructor notes: %s\n", notes)
	}
	sb.WriteString("\nMaterial:\n")
	sb.WriteString(text)
	return sb.String()
}

func partialSummaryPrompt(text string, index, total int, notes string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "This is part %d of %d of a longer document. ", index, total)
	sb.WriteString("Summarize just this part in at most 200 words, keeping every key fact. ")
	sb.WriteString("Respond in the same language as the material.\n")
	if notes != "" {
		fmt.Fprintf(&sb, "Instructor notes: %s\n", notes)
	}
	sb.WriteString("\nMaterial:\n")
	sb.WriteString(text)
	return sb.String()
}

func mergeSummariesPrompt(partials []string, maxWords int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Merge the following partial summaries of one document into a single coherent summary of at most %d words. ", maxWords)
	sb.WriteString("Remove repetition, keep the original order of topics, and respond in the same language as the summaries.\n\n")
	for i, p := range partials {
		fmt.Fprintf(&sb, "Part %d:\n%s\n\n", i+1, p)
	}
	return sb.String()
}

func questionsPrompt(text string, matrix MatrixConfig, notes string) string {
	var sb strings.Builder
	sb.WriteString("Generate exam questions from the material below. Produce exactly:\n")
	if matrix.MultipleChoice.Count > 0 {
		fmt.Fprintf(&sb, "- %d multiple-choice questions, %g points each, type \"%s\", with an \"options\" list of 4 choices\n",
			matrix.MultipleChoice.Count, matrix.MultipleChoice.Score, KindMultipleChoice)
	}
	if matrix.TrueFalse.Count > 0 {
		fmt.Fprintf(&sb, "- %d true/false questions, %g points each, type \"%s\"\n",
			matrix.TrueFalse.Count, matrix.TrueFalse.Score, KindTrueFalse)
	}
	if matrix.ShortAnswer.Count > 0 {
		fmt.Fprintf(&sb, "- %d short-answer questions, %g points each, type \"%s\"\n",
			matrix.ShortAnswer.Count, matrix.ShortAnswer.Score, KindShortAnswer)
	}
	sb.WriteString("\nReply with ONLY a JSON array, no code fences and no commentary. ")
	sb.WriteString(`Each element: {"type": string, "question": string, "options": [string] (multiple choice only), "answer": string, "explanation": string, "score": number}. `)
	sb.WriteString("Questions and answers must be in the same language as the material.\n")
	if notes != "" {
		fmt.Fprintf(&sb, "Instructor notes: %s\n", notes)
	}
	sb.WriteString("\nMaterial:\n")
	sb.WriteString(text)
	return sb.String()
}

func chatPrompt(context, question, notes string) string {
	var sb strings.Builder
	sb.WriteString("Answer the student's question using ONLY the document excerpts below. ")
	sb.WriteString("If the excerpts do not contain the answer, say so. ")
	sb.WriteString("Respond in the same language as the question.\n")
	if notes != "" {
		fmt.Fprintf(&sb, "Instructor notes: %s\n", notes)
	}
	sb.WriteString("\nExcerpts:\n")
	sb.WriteString(context)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}
