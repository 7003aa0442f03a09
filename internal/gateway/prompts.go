package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ent0n29/sahayak/internal/language"
)

const voiceMessagePrompt = "The user sent a voice message. Please analyze the audio and respond."

func oneShotInstruction(lang language.Code, data map[string]any) string {
	label := lang.Label()
	ctxJSON := "{}"
	if len(data) > 0 {
		if b, err := json.Marshal(data); err == nil {
			ctxJSON = string(b)
		}
	}
	var b strings.Builder
	b.WriteString("You are 'Samriddhi Sahayak', a highly intelligent and empathetic AI assistant for an Indian Citizen Welfare Portal.\n")
	b.WriteString("Your goal is to help citizens discover welfare schemes, understand document procedures, and lodge grievances.\n\n")
	b.WriteString("CRITICAL RULES:\n")
	fmt.Fprintf(&b, "1. LINGUISTIC PRECISION: You MUST respond strictly in the user's selected language: %s.\n", label)
	b.WriteString("2. NATIVE SCRIPT: If the language is an Indian regional language (like Hindi, Marathi, Tamil, etc.), you MUST use its native script (Devanagari, Tamil script, etc.).\n")
	b.WriteString("3. CULTURAL CONTEXT: Use respectful Indian honorifics and culturally appropriate greetings based on the language.\n")
	b.WriteString("4. AUDIO ANALYSIS: If an audio file is provided, transcribe it accurately (even if it is in a regional dialect) and respond to the query found within.\n")
	fmt.Fprintf(&b, "5. DATA ACCURACY: Use the provided context to give factual answers: %s.\n\n", ctxJSON)
	fmt.Fprintf(&b, "Current Language Setting: %s", label)
	return b.String()
}

func oneShotUserText(req OneShotRequest) string {
	prompt := strings.TrimSpace(req.Prompt)
	switch {
	case prompt != "":
	case req.Audio != nil:
		prompt = voiceMessagePrompt
	default:
		prompt = "Namaste!"
	}
	return "User Input: " + prompt
}

func translatePrompt(text string, target language.Code) string {
	return fmt.Sprintf("Translate the following text into %s. Maintain the tone and formatting. Return ONLY the translated text.\n\nText: %q", target.Label(), text)
}

func suggestPrompt(profile string) string {
	return fmt.Sprintf("Based on this user profile: %q, list the government schemes they might be eligible for from the Indian welfare landscape. Provide a JSON list.", profile)
}

func searchPrompt(query string, candidates []Candidate) string {
	list, _ := json.Marshal(candidates)
	return fmt.Sprintf("The user is searching for: %q.\n"+
		"Below is a list of government schemes. Identify and return the IDs of the most relevant schemes as a JSON array of strings.\n"+
		"If no schemes match well, return an empty array [].\n"+
		"Schemes: %s", query, list)
}

func eligibilityPrompt(req EligibilityRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the provided document image. Determine if the user is eligible for the scheme: %q.\n", req.SchemeName)
	fmt.Fprintf(&b, "Criteria: %s.\n", strings.Join(req.Criteria, ", "))
	b.WriteString("Identify the document type.\n")
	b.WriteString("Check if key information (Name, Date, Income, Category etc.) matches the criteria.\n")
	b.WriteString("Return a JSON object with:\n")
	b.WriteString("- isEligible (boolean)\n")
	b.WriteString("- confidenceScore (0-100)\n")
	b.WriteString("- detectedDocumentType (string)\n")
	b.WriteString("- observation (detailed reason why eligible or not)\n")
	b.WriteString("- missingInformation (list of fields not found or blurry)")
	if req.Language != "" && req.Language != language.English {
		fmt.Fprintf(&b, "\nWrite the observation in %s.", req.Language.Label())
	}
	return b.String()
}

// decodeStructured parses a JSON model answer into out. Empty text decodes as
// the zero value of a JSON array or object.
func decodeStructured(op, text string, out any) error {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return &Error{Op: op, Kind: ErrMalformedResponse, Err: fmt.Errorf("empty body")}
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return &Error{Op: op, Kind: ErrMalformedResponse, Err: err}
	}
	return nil
}
