package assistant

import (
	"fmt"
	"strings"

	"github.com/ent0n29/sahayak/internal/language"
)

func defaultLiveInstruction(lang language.Code) string {
	return fmt.Sprintf("You are Samriddhi Sahayak, an Indian e-governance chatbot. "+
		"Help users with schemes, documents, and grievances. "+
		"Use a helpful, respectful, and authoritative tone. Respond ONLY in %s.", lang.Label())
}

func guidanceInstruction(title, procedure string, lang language.Code) string {
	return fmt.Sprintf("The user needs help with %s. Procedure: %s. Guide them step-by-step. Respond ONLY in %s.",
		strings.TrimSpace(title), strings.TrimSpace(procedure), lang.Label())
}

func guidanceAnnouncement(title string) string {
	return fmt.Sprintf("Initiating AI Guidance Call for: %s. How can I assist you with this facility?", strings.TrimSpace(title))
}
