package csrf

// RefreshResponse is the body of the token refresh endpoint.
type RefreshResponse struct {
	Success   bool   `json:"success" example:"true"`
	CSRFToken string `json:"csrf_token,omitempty" example:"4f9c0e7d2b1a..."`
	Message   string `json:"message,omitempty" example:""`
}
