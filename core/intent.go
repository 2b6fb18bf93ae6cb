package core

// Intent classifies what kind of help the user wants. The set is closed:
// adding a capability means adding a constant here and registering a handler
// for it at startup, so a missing registration is detectable before any
// request is served.
//
// Intents are derived per request from the input text (optionally aided by
// recent history) and never stored.
type Intent string

const (
	IntentContentDrafting     Intent = "content_drafting"
	IntentContentReview       Intent = "content_review"
	IntentGuidance            Intent = "guidance"
	IntentAnalysis            Intent = "analysis"
	IntentQuery               Intent = "query"
	IntentGeneralConversation Intent = "general_conversation"
	IntentSearch              Intent = "search"
	IntentAssessment          Intent = "assessment"
)

// Intents lists every member of the closed set.
func Intents() []Intent {
	return []Intent{
		IntentContentDrafting,
		IntentContentReview,
		IntentGuidance,
		IntentAnalysis,
		IntentQuery,
		IntentGeneralConversation,
		IntentSearch,
		IntentAssessment,
	}
}

// Valid reports whether i is a member of the closed intent set.
func (i Intent) Valid() bool {
	for _, known := range Intents() {
		if i == known {
			return true
		}
	}
	return false
}
