package speechkit

import "encoding/json"

// RecognitionRequest is the body of a longRunningRecognize call.
type RecognitionRequest struct {
	Config RecognitionConfig `json:"config"`
	Audio  AudioSource       `json:"audio"`
}

type RecognitionConfig struct {
	Specification Specification `json:"specification"`
}

// Specification defines audio and recognition parameters
type Specification struct {
	LanguageCode      string `json:"languageCode"`
	Model             string `json:"model"`
	AudioEncoding     string `json:"audioEncoding"`
	SampleRateHertz   int    `json:"sampleRateHertz"`
	AudioChannelCount int    `json:"audioChannelCount"`
	ProfanityFilter   bool   `json:"profanityFilter"`
	LiteratureText    bool   `json:"literatureText"`
}

type AudioSource struct {
	URI string `json:"uri"`
}

// OperationResponse is a Yandex Cloud long-running operation. Response is
// decoded only once Done is set.
type OperationResponse struct {
	ID       string          `json:"id"`
	Done     bool            `json:"done"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    *OperationError `json:"error,omitempty"`
}

type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RecognitionResult represents final recognition result
type RecognitionResult struct {
	Chunks []Chunk `json:"chunks"`
}

type Chunk struct {
	Alternatives []Alternative `json:"alternatives"`
	ChannelTag   string        `json:"channelTag,omitempty"`
}

type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}
