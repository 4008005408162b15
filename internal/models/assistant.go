package models

// AssistantResult is one entry of the remote assistant's results array.
// The misspelled recomended key is what the endpoint emits.
type AssistantResult struct {
	ResponseToDisplay    string   `json:"response_to_display"`
	FollowUpQuestions    []string `json:"follow_up_questions,omitempty"`
	FollowUpAnswers      []string `json:"follow_up_answers,omitempty"`
	RecommendedResponses []string `json:"recomended_responses_to_follow_up_answers,omitempty"`
	ConfidenceScore      *float64 `json:"confidence_score,omitempty"`
	Intent               string   `json:"intent,omitempty"`
}

// AssistantResponse is the payload returned by the remote assistant.
type AssistantResponse struct {
	Results []AssistantResult `json:"results"`
}
