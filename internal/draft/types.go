package draft

// graphMessage is the subset of a Graph message resource the loader needs.
type graphMessage struct {
	Subject string           `json:"subject"`
	Body    graphMessageBody `json:"body"`
}

// graphMessageBody is the body portion of a message resource.
type graphMessageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// attachmentListing is the response of the attachments collection endpoint.
type attachmentListing struct {
	Value []attachmentMeta `json:"value"`
}

// attachmentMeta describes one attachment without its body.
type attachmentMeta struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	ContentID   string `json:"contentId"`
	IsInline    bool   `json:"isInline"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
