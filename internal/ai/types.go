package ai

// Request carries the prediction material submitted to the judge.
type Request struct {
	Agent      string `json:"agent"`
	Prediction string `json:"prediction"`
	FullPost   string `json:"full_post,omitempty"`
	Topic      string `json:"topic,omitempty"`
}
